package core

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// StudentModule identifies the records of one student in one module.
type StudentModule struct {
	StudentID string `json:"student_id" db:"student_id"`
	ModuleID  int64  `json:"module_id" db:"module_id"`
}

package main

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/ml/gnn"
)

func (cli *commandLine) modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Prediction model utilities",
	}

	var path string
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Print the metadata of the prediction model",
		Long:  "Print the metadata of the prediction model. Without saved weights, the seeded model is described.",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return cli.inspectModel(path)
		},
	}
	inspect.Flags().StringVar(&path, "path", "", "weights file (defaults to the configured model path)")

	cmd.AddCommand(inspect)
	return cmd
}

func (cli *commandLine) inspectModel(path string) error {
	conf := cli.config(core.ServicePrediction)
	if path == "" {
		path = conf.Model.Path
	}

	model, err := gnn.LoadOrSeed(path, conf.Model.Version, conf.Model.Seed)
	if err != nil {
		return errors.Wrap(err, "loading model")
	}
	info := model.Info()
	return cli.print(info, []string{"FIELD", "VALUE"}, [][]string{
		{"version", info.Version},
		{"source", info.Source},
		{"path", info.Path},
		{"input_dim", strconv.Itoa(info.InputDim)},
		{"hidden_dim", strconv.Itoa(info.HiddenDim)},
		{"num_layers", strconv.Itoa(info.NumLayers)},
		{"features", strings.Join(info.Features, ", ")},
	})
}

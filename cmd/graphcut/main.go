// graphcut cuts ONNX models or YAML graph descriptions at new inputs and outputs.
//
// Examples:
//
//	graphcut cut model.onnx --input "conv_1:0[1,3,224,224]" --output relu_5 --dump cut.yaml
//	graphcut cut graph.yaml --request request.yaml --freeze "is_training->false"
//	graphcut inspect model.onnx
package main

import (
	goflag "flag"
	"fmt"
	"io"
	"os"

	"github.com/gomlx/graphcut/graph"
	"github.com/gomlx/graphcut/internal/graphio"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	flagInput   string
	flagOutput  string
	flagFreeze  string
	flagRequest string
	flagDump    string
)

var rootCmd = &cobra.Command{
	Use:   "graphcut",
	Short: "Cut model graphs at new inputs and outputs",
	Long: `graphcut reads a model graph (an ONNX model, or a YAML graph description) and cuts it:
the requested nodes or ports become the new inputs and outputs, and everything not
needed to compute the outputs from the inputs is removed.

Port designators are "name" (the node), "name:k" (its output port k) or "k:name"
(its input port k).`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		klog.Flush()
	},
}

var cutCmd = &cobra.Command{
	Use:   "cut <model.onnx|graph.yaml>",
	Short: "Cut the graph and print (or dump) the result",
	Long: `Cuts the graph at the given inputs and outputs.

Inputs are a comma separated list of port designators, each optionally followed by
a shape, e.g. "conv_1:0[1,3,224,224],0:relu_1". A bare shape ("[1,3,224,224]")
reshapes the current inputs. Outputs are a comma separated list of port designators.
Frozen inputs are given as "name->value" pairs, e.g. "is_training->false,rate->0.5".

A YAML request file can give the same information, flags override it.`,
	Args: cobra.ExactArgs(1),
	RunE: runCut,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <model.onnx|graph.yaml>",
	Short: "Print a summary of the graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := loadGraph(args[0])
		if err != nil {
			return err
		}
		return output(cmd.OutOrStdout(), g)
	},
}

func init() {
	klogFlags := goflag.NewFlagSet("klog", goflag.ExitOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)
	rootCmd.PersistentFlags().StringVar(&flagDump, "dump", "", `Write the graph as YAML to this file ("-" for stdout) instead of printing its summary`)

	cutCmd.Flags().StringVarP(&flagInput, "input", "i", "", "Inputs to cut at, with optional shapes")
	cutCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Outputs to cut at")
	cutCmd.Flags().StringVar(&flagFreeze, "freeze", "", "Inputs to freeze to constant values")
	cutCmd.Flags().StringVar(&flagRequest, "request", "", "YAML file with the cut request")

	rootCmd.AddCommand(cutCmd, inspectCmd)
}

func runCut(cmd *cobra.Command, args []string) error {
	req, err := loadRequest(flagRequest, flagInput, flagOutput, flagFreeze)
	if err != nil {
		return err
	}
	g, err := loadGraph(args[0])
	if err != nil {
		return err
	}
	if err := cutGraph(g, req); err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), g)
}

// output prints the graph summary, or dumps the graph if --dump was given.
func output(w io.Writer, g *graph.Graph) error {
	switch flagDump {
	case "":
		_, err := fmt.Fprint(w, g)
		return err
	case "-":
		return graphio.Dump(w, g)
	default:
		if err := graphio.DumpFile(flagDump, g); err != nil {
			return err
		}
		klog.Infof("graph written to %q", flagDump)
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		klog.Flush()
		os.Exit(1)
	}
}

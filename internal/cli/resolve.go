package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

var (
	resolveConfig string
	resolveSet    []string
)

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVarP(&resolveConfig, "config", "c", "", "Configuration file (default: config_path from settings)")
	resolveCmd.Flags().StringArrayVar(&resolveSet, "set", nil, "Runtime parameter as name=value; value is parsed as YAML (repeatable)")
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <context>",
	Short: "Show the parameters an operation would run with",
	Long:  "Merges --set values over the configuration for the given context\n(training, processing, deployment, feature_store, pipeline) and prints\neach value with its origin.",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

type resolveOutput struct {
	Context string            `json:"context"`
	Values  map[string]any    `json:"values"`
	Origins map[string]string `json:"origins"`
	Extra   map[string]any    `json:"extra,omitempty"`
	Unset   []string          `json:"unset,omitempty"`
}

func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, mlperrors.Validationf(pair, "expected name=value")
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, mlperrors.Validationf(name, "value is not valid YAML: %v", err)
		}
		out[name] = v
	}
	return out, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	runtime, err := parseAssignments(resolveSet)
	if err != nil {
		return err
	}
	if resolveConfig != "" {
		settings.ConfigPath = resolveConfig
	}

	c := newContainer()
	defer c.Close(cmd.Context())
	sess, err := c.Session(cmd.Context())
	if err != nil {
		return err
	}
	set, err := sess.Resolve(args[0], runtime)
	if err != nil {
		return err
	}

	res := resolveOutput{
		Context: set.Context,
		Values:  set.Values,
		Origins: make(map[string]string, len(set.Origins)),
		Extra:   set.Extra,
		Unset:   set.Unset,
	}
	for k, o := range set.Origins {
		res.Origins[k] = string(o)
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

// maxPromptSize bounds prompts read from stdin or a file.
const maxPromptSize = 1 << 20

var (
	runMinConfidence float64
	runMaxIterations int
	runDomain        string
	runAudience      string
	runSources       []string
	runOutputOnly    bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt|-]",
	Short: "Process one prompt and print the result",
	Long: `Process one prompt through the loop and print the result document as JSON.

Examples:
  # Prompt as an argument
  ultrathink run "Summarize the attached policy"

  # Prompt from stdin, grounded on a source file
  cat question.txt | ultrathink run - --source policy.txt --domain legal

  # Print only the final answer
  ultrathink run --output-only "What is 2+2?"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.Float64Var(&runMinConfidence, "min-confidence", 0, "confidence threshold for this request (0 keeps the configured value)")
	f.IntVar(&runMaxIterations, "max-iterations", 0, "iteration cap for this request (0 keeps the configured value)")
	f.StringVar(&runDomain, "domain", "", "domain: general, medical, legal, financial or technical")
	f.StringVar(&runAudience, "audience", "", "target audience: general, patient, clinician or expert")
	f.StringSliceVar(&runSources, "source", nil, "source document file to ground the answer on (repeatable)")
	f.BoolVar(&runOutputOnly, "output-only", false, "print only the final output instead of the JSON document")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	prompt, err := readPrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	req := orchestrator.Request{Prompt: prompt}
	if req.Options, err = runOptions(cmd); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, err := initDependencies(ctx, cfg, depOptions{stderrLogs: true})
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(ctx) }()

	res, err := deps.orch.Process(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runOutputOnly {
		if !res.Success {
			return fmt.Errorf("request failed: %s", res.Error)
		}
		_, err := fmt.Fprintln(out, res.Output)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Document())
}

// readPrompt takes the prompt from args, or stdin when the argument is "-"
// or absent.
func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, maxPromptSize+1))
	if err != nil {
		return "", fmt.Errorf("reading prompt: %w", err)
	}
	if len(data) > maxPromptSize {
		return "", errors.New("prompt exceeds 1MB")
	}
	return strings.TrimSpace(string(data)), nil
}

// runOptions maps the flags that were set onto request options.
func runOptions(cmd *cobra.Command) (orchestrator.Options, error) {
	var opts orchestrator.Options
	f := cmd.Flags()
	if f.Changed("min-confidence") {
		v := runMinConfidence
		opts.MinConfidence = &v
	}
	if f.Changed("max-iterations") {
		v := runMaxIterations
		opts.MaxIterations = &v
	}
	opts.Domain = runDomain
	opts.TargetAudience = runAudience
	for _, path := range runSources {
		data, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("reading source %s: %w", path, err)
		}
		opts.SourceDocuments = append(opts.SourceDocuments, string(data))
	}
	return opts, nil
}

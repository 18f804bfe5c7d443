package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"hdrproxy/core"
	"hdrproxy/internal/records"
)

func inputReader(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(path)
}

func newParseCmd() *cobra.Command {
	var (
		file     string
		response bool
		strict   string
	)
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse an HTTP/1.x message and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := inputReader(cmd, file)
			if err != nil {
				return err
			}
			defer r.Close()

			polarity := core.PolarityRequest
			if response {
				polarity = core.PolarityResponse
			}
			strictness := strictnessFromFlag(strict, rec)

			heap := core.NewHeaderHeap()
			obj, err := core.ParseHTTPMessage(heap, r, polarity, strictness)
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			printSummary(cmd, obj)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "input file (default stdin)")
	cmd.Flags().BoolVar(&response, "response", false, "parse a status line instead of a request line")
	cmd.Flags().StringVar(&strict, "strictness", "", "off|mostly|strict (default: from records config)")
	return cmd
}

func strictnessFromFlag(flag string, rec *records.Records) core.URLStrictness {
	switch flag {
	case "off":
		return core.StrictnessOff
	case "mostly":
		return core.StrictnessMostly
	case "strict":
		return core.StrictnessStrict
	}
	if rec != nil {
		return strictnessFromRecordsMode(rec.Current().StrictURIParsing)
	}
	return core.StrictnessOff
}

// strictnessFromRecordsMode translates the records collaborator's
// spec.md §6 encoding (0=off, 1=strict, 2=mostly) into core.URLStrictness,
// whose own iota order (Off, Mostly, Strict) differs from the records
// wire encoding.
func strictnessFromRecordsMode(mode records.URIStrictnessMode) core.URLStrictness {
	switch mode {
	case records.URIStrictnessStrict:
		return core.StrictnessStrict
	case records.URIStrictnessMostly:
		return core.StrictnessMostly
	default:
		return core.StrictnessOff
	}
}

func printSummary(cmd *cobra.Command, obj *core.HTTPObj) {
	out := cmd.OutOrStdout()
	if obj.Polarity == core.PolarityRequest {
		fmt.Fprintf(out, "method=%s version=%d.%d\n", obj.Method.Bytes(), obj.MajorVersion, obj.MinorVersion)
		if obj.URL != nil {
			fmt.Fprintf(out, "url=%s\n", obj.URL.Print())
		}
	} else {
		fmt.Fprintf(out, "status=%d reason=%s version=%d.%d\n", obj.StatusCode, obj.Reason.Bytes(), obj.MajorVersion, obj.MinorVersion)
	}
}

func newRoundtripCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "roundtrip",
		Short: "Parse, marshal, unmarshal, and report whether the image survived intact",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := inputReader(cmd, file)
			if err != nil {
				return err
			}
			defer r.Close()

			heap := core.NewHeaderHeap()
			obj, err := core.ParseHTTPMessage(heap, r, core.PolarityRequest, core.StrictnessOff)
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			n, err := heap.MarshalLength()
			if err != nil {
				return fmt.Errorf("marshal length: %w", err)
			}
			buf := make([]byte, n)
			if _, err := heap.Marshal(buf); err != nil {
				return fmt.Errorf("marshal: %w", err)
			}
			got, err := core.Unmarshal(buf)
			if err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d bytes, method=%s\n", n, got.Root.Method.Bytes())
			_ = obj
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "input file (default stdin)")
	return cmd
}

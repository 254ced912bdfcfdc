package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qaworker/internal/config"
	"qaworker/internal/transport"
	"qaworker/pkg/types"
)

// inferOpts drive a one-shot load+infer against a running daemon's worker socket.
type inferOpts struct {
	url       string
	modelID   string
	path      string
	ids       string
	mask      string
	tokenType string
	requestID int64
	timeout   time.Duration
}

func newInferCmd() *cobra.Command {
	o := &inferOpts{}
	cmd := &cobra.Command{
		Use:     "infer",
		Short:   "Load a model over the worker socket and run one batch",
		Example: "  qaworkerd infer --model qa-v1 --path /models/qa-v1.onnx --ids 101,2054,102",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := o.inputs()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			c, err := transport.Dial(ctx, o.url, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			ack, err := c.Load(ctx, o.modelID, types.DefaultModelParams(o.path))
			if err != nil {
				return err
			}
			if ack.Error != nil {
				return ack.Error
			}
			res, err := c.Infer(ctx, types.InferenceRequest{RequestID: o.requestID, ModelID: ack.ModelID, Inputs: in})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Error != nil {
				return res.Error
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.url, "url", config.EnvStr("QAWORKER_URL", "ws://127.0.0.1:8080/ws/worker"), "Worker socket URL")
	f.StringVar(&o.modelID, "model", "", "Model id (defaults to --path)")
	f.StringVar(&o.path, "path", "", "Model path on the daemon host")
	f.StringVar(&o.ids, "ids", "", "Token ids; rows separated by ';', ids by ','")
	f.StringVar(&o.mask, "mask", "", "Attention mask in the same layout (defaults to all ones)")
	f.StringVar(&o.tokenType, "token-type-ids", "", "Token type ids in the same layout (optional)")
	f.Int64Var(&o.requestID, "request-id", 1, "Request id echoed in the result")
	f.DurationVar(&o.timeout, "timeout", 2*time.Minute, "Overall timeout")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}

func (o *inferOpts) inputs() (types.Inputs, error) {
	ids, err := parseRows(o.ids)
	if err != nil {
		return types.Inputs{}, fmt.Errorf("--ids: %w", err)
	}
	in := types.Inputs{IDs: ids}
	if o.mask != "" {
		if in.AttentionMask, err = parseRows(o.mask); err != nil {
			return types.Inputs{}, fmt.Errorf("--mask: %w", err)
		}
	} else {
		in.AttentionMask = onesLike(ids)
	}
	if o.tokenType != "" {
		if in.TokenTypeIDs, err = parseRows(o.tokenType); err != nil {
			return types.Inputs{}, fmt.Errorf("--token-type-ids: %w", err)
		}
	}
	return in, nil
}

// parseRows parses "1,2,3;4,5,6" into [][]int32.
func parseRows(s string) ([][]int32, error) {
	var rows [][]int32
	for _, part := range strings.Split(s, ";") {
		fields := config.SplitCSV(part)
		if len(fields) == 0 {
			continue
		}
		row := make([]int32, len(fields))
		for i, f := range fields {
			n, err := strconv.ParseInt(f, 10, 32)
			if err != nil {
				return nil, err
			}
			row[i] = int32(n)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no values")
	}
	return rows, nil
}

func onesLike(rows [][]int32) [][]int32 {
	out := make([][]int32, len(rows))
	for i, r := range rows {
		out[i] = make([]int32, len(r))
		for j := range r {
			out[i][j] = 1
		}
	}
	return out
}

func joinCSV(s []string) string { return strings.Join(s, ",") }

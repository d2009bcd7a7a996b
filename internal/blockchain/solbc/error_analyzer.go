package solbc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
)

// JSON-RPC error codes returned by sendTransaction.
const (
	codeSimulationFailed      = -32002
	codeSignatureVerification = -32003
	codeNodeUnhealthy         = -32005
)

// AnchorError is an error logged by an Anchor program.
type AnchorError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

// Analysis is the decoded form of a node error. It is meant for logs only.
type Analysis struct {
	Type             string       `json:"type"`
	Code             int          `json:"code,omitempty"`
	Message          string       `json:"message"`
	SimulationFailed bool         `json:"simulation_failed,omitempty"`
	BlockhashExpired bool         `json:"blockhash_expired,omitempty"`
	InstructionError interface{}  `json:"instruction_error,omitempty"`
	Logs             []string     `json:"logs,omitempty"`
	Anchor           *AnchorError `json:"anchor_error,omitempty"`
}

// ErrorAnalyzer decodes Solana RPC errors.
type ErrorAnalyzer struct {
	logger *zap.Logger
}

func NewErrorAnalyzer(logger *zap.Logger) *ErrorAnalyzer {
	return &ErrorAnalyzer{
		logger: logger.Named("error-analyzer"),
	}
}

// AnalyzeRPCError extracts simulation details from a jsonrpc.RPCError.
func (ea *ErrorAnalyzer) AnalyzeRPCError(err error) Analysis {
	if err == nil {
		return Analysis{Type: "none", Message: "no error provided"}
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return Analysis{Type: "generic_error", Message: err.Error()}
	}

	result := Analysis{
		Type:    "rpc_error",
		Code:    rpcErr.Code,
		Message: rpcErr.Message,
	}

	if rpcErr.Code == codeSimulationFailed || strings.Contains(rpcErr.Message, "Transaction simulation failed") {
		result.SimulationFailed = true
	}
	if strings.Contains(strings.ToLower(rpcErr.Message), "blockhash not found") {
		result.BlockhashExpired = true
	}

	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return result
	}

	if logs, ok := data["logs"].([]interface{}); ok {
		for _, entry := range logs {
			line, ok := entry.(string)
			if !ok {
				continue
			}
			result.Logs = append(result.Logs, line)
			if strings.Contains(line, "AnchorError occurred") {
				anchor := parseAnchorErrorLog(line)
				result.Anchor = &anchor
			}
		}
	}

	switch e := data["err"].(type) {
	case string:
		if e == "BlockhashNotFound" {
			result.BlockhashExpired = true
		}
		result.InstructionError = e
	case map[string]interface{}:
		result.InstructionError = e
	}

	return result
}

// Classify maps a sendTransaction error onto the provider error taxonomy and
// logs the decoded details. Errors that say nothing about the transaction are
// returned unchanged.
func (ea *ErrorAnalyzer) Classify(err error) error {
	if err == nil {
		return nil
	}

	analysis := ea.AnalyzeRPCError(err)
	if analysis.Type != "rpc_error" {
		return err
	}

	fields := []zap.Field{
		zap.Int("code", analysis.Code),
		zap.String("message", analysis.Message),
	}
	if len(analysis.Logs) > 0 {
		fields = append(fields, zap.Strings("logs", analysis.Logs))
	}
	if analysis.Anchor != nil {
		fields = append(fields,
			zap.Int("anchor_code", analysis.Anchor.Code),
			zap.String("anchor_name", analysis.Anchor.Name))
	}

	switch {
	case analysis.BlockhashExpired:
		ea.logger.Warn("Node does not know the transaction blockhash", fields...)
		return fmt.Errorf("%w: %w", blockchain.ErrBlockhashNotFound, err)
	case analysis.SimulationFailed, analysis.Code == codeSignatureVerification:
		ea.logger.Warn("Node rejected transaction", fields...)
		return fmt.Errorf("%w: %w", blockchain.ErrTransactionRejected, err)
	case analysis.Code == codeNodeUnhealthy:
		ea.logger.Debug("Node is behind", fields...)
	}
	return err
}

// parseAnchorErrorLog parses a line such as
// "Program log: AnchorError occurred. Error Code: InstructionFallbackNotFound. Error Number: 101. Error Message: Fallback functions are not supported."
func parseAnchorErrorLog(line string) AnchorError {
	var result AnchorError

	if _, rest, ok := strings.Cut(line, "Error Number:"); ok {
		num, _, _ := strings.Cut(rest, ".")
		if code, err := strconv.Atoi(strings.TrimSpace(num)); err == nil {
			result.Code = code
		}
	}
	if _, rest, ok := strings.Cut(line, "Error Code:"); ok {
		name, _, _ := strings.Cut(rest, ".")
		result.Name = strings.TrimSpace(name)
	}
	if _, rest, ok := strings.Cut(line, "Error Message:"); ok {
		result.Msg = strings.TrimSuffix(strings.TrimSpace(rest), ".")
	}

	return result
}

// FormatErrorAnalysis renders an analysis as indented JSON.
func (ea *ErrorAnalyzer) FormatErrorAnalysis(analysis Analysis) string {
	out, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error formatting analysis: %v", err)
	}
	return string(out)
}

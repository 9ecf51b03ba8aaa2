package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// fixed timestamp keeps dry-run reports byte-identical across runs
const dryRunTimestamp = "2024-01-01T00:00:00Z"

type dryRunIssue struct {
	Severity       string
	Location       string
	Description    string
	Recommendation string
	Explanation    string
}

// canonicalJSON re-encodes a raw payload with sorted object keys so the
// same logical payload always hashes to the same value.
func canonicalJSON(payload json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return payload
	}
	out, err := json.Marshal(v)
	if err != nil {
		return payload
	}
	return out
}

// ContentHash returns the first 8 hex characters of the SHA-256 of the
// canonical payload encoding.
func ContentHash(payload json.RawMessage) string {
	sum := sha256.Sum256(canonicalJSON(payload))
	return hex.EncodeToString(sum[:])[:8]
}

// DryRunReport generates a synthetic audit report derived entirely
// from the job payload. The same payload and job ID always produce the
// same bytes, including the trailing integrity hash.
func DryRunReport(payload json.RawMessage, jobID string) string {
	contentHash := ContentHash(payload)
	hashInt, _ := strconv.ParseUint(contentHash, 16, 64)

	var meta struct {
		Source struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"source"`
		LLM struct {
			Model string `json:"model"`
		} `json:"llm"`
		AuditProfile string `json:"audit_profile"`
	}
	_ = json.Unmarshal(payload, &meta)
	sourceType := meta.Source.Type
	if sourceType == "" {
		sourceType = "unknown"
	}
	sourceURL := meta.Source.URL
	if sourceURL == "" {
		sourceURL = "N/A"
	}
	model := meta.LLM.Model
	if model == "" {
		model = "unknown"
	}
	profile := meta.AuditProfile
	if profile == "" {
		profile = "unknown"
	}

	var issues []dryRunIssue
	if hashInt%3 == 0 {
		issues = append(issues, dryRunIssue{
			Severity:       "high",
			Location:       "contract.sol:42",
			Description:    "Potential reentrancy vulnerability in withdraw function",
			Recommendation: "Use checks-effects-interactions pattern",
			Explanation:    "The function modifies state after external call, which could lead to reentrancy attacks.",
		})
	}
	if hashInt%5 == 0 {
		issues = append(issues, dryRunIssue{
			Severity:       "medium",
			Location:       "contract.sol:15",
			Description:    "Missing access control modifier",
			Recommendation: "Add onlyOwner or similar access control",
			Explanation:    "Function lacks proper access control, allowing unauthorized execution.",
		})
	}
	if hashInt%7 == 0 {
		issues = append(issues, dryRunIssue{
			Severity:       "low",
			Location:       "contract.sol:89",
			Description:    "Unused variable declaration",
			Recommendation: "Remove unused variable or use it",
			Explanation:    "Variable is declared but never used, increasing gas costs.",
		})
	}

	lines := []string{
		fmt.Sprintf("# Audit Report - Job %s", jobID),
		fmt.Sprintf("Generated: %s", dryRunTimestamp),
		fmt.Sprintf("Model: %s", model),
		fmt.Sprintf("Source: %s (%s)", sourceType, sourceURL),
		fmt.Sprintf("Profile: %s", profile),
		fmt.Sprintf("Content Hash: %s", contentHash),
		"",
		"## Summary",
		"This is a synthetic audit report generated in DRY_RUN mode.",
		fmt.Sprintf("Found %d potential issues in the analyzed code.", len(issues)),
		"",
		"## Issues Found",
	}

	if len(issues) == 0 {
		lines = append(lines, "No issues detected in the analyzed code.")
	} else {
		for i, issue := range issues {
			lines = append(lines,
				fmt.Sprintf("### Issue %d", i+1),
				fmt.Sprintf("**Severity:** %s", issue.Severity),
				fmt.Sprintf("**Location:** %s", issue.Location),
				fmt.Sprintf("**Description:** %s", issue.Description),
				fmt.Sprintf("**Recommendation:** %s", issue.Recommendation),
				fmt.Sprintf("**Explanation:** %s", issue.Explanation),
				"",
			)
		}
	}

	lines = append(lines,
		"## Checks Performed",
		"- ERC20 compliance check",
		"- Access control analysis",
		"- Reentrancy detection",
		"- Gas optimization review",
		"- Integer overflow/underflow check",
		"",
		"## Metrics",
		fmt.Sprintf("Analysis time: %d seconds", hashInt%30+10),
		fmt.Sprintf("Lines analyzed: %d", hashInt%1000+100),
		fmt.Sprintf("Functions reviewed: %d", hashInt%20+5),
		"",
	)

	body := strings.Join(lines, "\n")
	sum := sha256.Sum256([]byte(body))
	return body + "\nReport SHA256: " + hex.EncodeToString(sum[:])
}

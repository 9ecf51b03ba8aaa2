package llm

import (
	"strings"

	"github.com/auditforge/api/internal/model"
)

const systemPrompt = "You are an expert smart contract auditor. Analyze the provided code and generate a comprehensive audit report."

const erc20BasicPrompt = `
Analyze this smart contract code for ERC20 compliance and common vulnerabilities:

1. ERC20 Standard Compliance:
   - Check if all required functions are implemented
   - Verify function signatures and return values
   - Ensure proper event emissions

2. Security Issues:
   - Reentrancy vulnerabilities
   - Integer overflow/underflow
   - Access control issues
   - Front-running vulnerabilities
   - Gas optimization issues

3. Code Quality:
   - Unused variables or functions
   - Missing error handling
   - Inconsistent naming conventions

Please provide a detailed report with:
- Summary of findings
- List of issues with severity levels (high/medium/low)
- Specific locations and descriptions
- Recommendations for fixes
- Gas optimization suggestions

Code to analyze:
` + "```solidity\n{code}\n```\n"

const generalPrompt = `
Perform a comprehensive security audit of this smart contract code:

1. Security Vulnerabilities:
   - Reentrancy attacks
   - Integer overflow/underflow
   - Access control bypass
   - Front-running attacks
   - Denial of service
   - Logic errors

2. Best Practices:
   - Code organization and structure
   - Error handling
   - Gas optimization
   - Documentation and comments

3. Compliance:
   - Standard compliance (ERC20, ERC721, etc.)
   - Regulatory considerations

Please provide a detailed report with:
- Executive summary
- Detailed findings with severity levels
- Code locations and explanations
- Specific recommendations
- Risk assessment

Code to analyze:
` + "```solidity\n{code}\n```\n"

// BuildPrompt renders the analysis prompt for an audit profile.
// Unknown profiles fall back to the general audit prompt.
func BuildPrompt(code, auditProfile string) string {
	base := generalPrompt
	if auditProfile == model.ProfileERC20Basic {
		base = erc20BasicPrompt
	}
	return strings.ReplaceAll(base, "{code}", code)
}

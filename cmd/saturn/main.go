// Saturn is a token-budget governor for multi-agent LLM systems.
//
// It meters every agent's token spend against provider-level monthly
// budgets, admits or denies requests before they reach a provider, and
// shifts traffic to fallback providers as budgets run down.
//
// Usage:
//
//	# Start the governor with default configuration
//	saturn run
//
//	# Start with a custom configuration file
//	saturn run --config /etc/saturn/config.yaml
//
//	# Show the emergency throttle and provider status
//	saturn status
//
//	# Print a usage report for a provider
//	saturn report --provider anthropic
//
//	# Validate a configuration file
//	saturn validate --config config.yaml
package main

func main() {
	Execute()
}

// Command llmdispatch sends prompts through the rate-limited dispatcher.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

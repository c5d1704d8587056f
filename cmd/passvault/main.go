// Command passvault is a local password manager.
package main

import "os"

func main() {
	// after every init so the flags it targets exist
	registerCompletionFunctions()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

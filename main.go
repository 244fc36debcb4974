// Command linkpub fetches shared links, renders covers and publishes them to
// a Feishu bitable.
package main

import (
	"github.com/JakeFAU/link-publisher/cmd"
)

func main() {
	cmd.Execute()
}

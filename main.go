package main

import "github.com/suporttech/zapdesk/cmd"

func main() {
	cmd.Execute()
}

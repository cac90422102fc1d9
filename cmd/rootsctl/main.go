/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"github.com/ssargent/rootsdb/cmd/rootsctl/cmd"
)

func main() {
	cmd.Execute()
}

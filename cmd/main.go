// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/streamhub/rebalance-operator/internal/cmd"
)

func main() {
	err := cmd.RootCmd.Execute()
	if err != nil {
		println(err.Error())
		os.Exit(1)
	}
}

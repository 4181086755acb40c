// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/spf13/cobra"
)

// RootCmd is the main command for the 'quicctl' binary.
var RootCmd = &cobra.Command{
	Use:   "quicctl",
	Short: "quicctl drives a quiccore connection for manual testing",
	Long:  "quicctl drives a quiccore connection for manual testing",
}

func init() {
	RootCmd.AddCommand(DialCmd)
}

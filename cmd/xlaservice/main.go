// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// xlaservice is a command-line front-end to the local compilation service: it authors and
// inspects programs, compiles them to executables or ahead-of-time artifacts, and shows how
// replicas are placed on devices.
//
// Example:
//
//	xlaservice build --name add --param x=f32[4] --param y=f32[4] --op add --result f32[4] -o add.hlo
//	xlaservice inspect add.hlo
//	xlaservice compile add.hlo --partitions 4 -v=3
//	xlaservice aot add.hlo --partitions 2 --store artifacts.db
//	xlaservice aot list --store artifacts.db
//	xlaservice place --replicas 4
package main

import (
	"flag"
	"os"

	_ "github.com/gomlx/xlaservice/backends/host"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	root := newRootCommand()
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	if err := root.Execute(); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

// Package main implements the overdue-notices binary extension. It computes
// late fees and renders overdue notices for other extensions.
//
// Build it next to its manifest inside the extensions directory:
//
//	mkdir -p $EXTENSIONS/overdue-notices/bin
//	cp plugins/overdue/extension.yaml $EXTENSIONS/overdue-notices/
//	go build -o $EXTENSIONS/overdue-notices/bin/overdue-$(go env GOOS)-$(go env GOARCH) ./plugins/overdue
package main

import (
	"context"
	"fmt"

	"github.com/shelfhost/shelf/pkg/extsdk"
)

// Fee schedule in cents.
const (
	graceDays  = 3
	dailyFee   = 25
	maximumFee = 1000
)

// fee returns the late fee for a loan overdue by days.
func fee(days int) int {
	if days <= graceDays {
		return 0
	}
	f := (days - graceDays) * dailyFee
	if f > maximumFee {
		return maximumFee
	}
	return f
}

func intArg(args []any, i int, name string) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %s", name)
	}
	n, ok := args[i].(int)
	if !ok {
		return 0, fmt.Errorf("argument %s must be an integer, got %T", name, args[i])
	}
	return n, nil
}

func newHandler() *extsdk.Handler {
	h := &extsdk.Handler{}
	h.OnActivate = func(_ context.Context, info extsdk.Info) error {
		if info.ID == "" {
			return fmt.Errorf("activated without an id")
		}
		return nil
	}
	h.Export("fee", func(_ context.Context, args []any) (any, error) {
		days, err := intArg(args, 0, "days")
		if err != nil {
			return nil, err
		}
		return fee(days), nil
	})
	h.Export("notice", func(_ context.Context, args []any) (any, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("notice takes a title and a number of days")
		}
		title, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("argument title must be a string, got %T", args[0])
		}
		days, err := intArg(args, 1, "days")
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"title": title,
			"days":  days,
			"fee":   fee(days),
			"text":  fmt.Sprintf("%q is %d days overdue. Fee: $%d.%02d", title, days, fee(days)/100, fee(days)%100),
		}, nil
	})
	return h
}

func main() {
	extsdk.Serve(&extsdk.ServeConfig{Extension: newHandler()})
}

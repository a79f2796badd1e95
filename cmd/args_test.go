// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package main

import (
	"math"
	"reflect"
	"testing"

	splat "github.com/playcanvas/splat-transform"
)

func TestParseArgsGrammar(t *testing.T) {
	args, err := parseArgs([]string{
		"-w", "-i", "25",
		"in.ply", "-t", "1,2,3", "-s", "0.5",
		"second.splat", "-N",
		"out.sog", "-H", "2",
	})
	if err != nil {
		t.Fatalf("parseArgs failed, reason: %v", err)
	}

	if !args.overwrite || args.iterations != 25 {
		t.Errorf("global flags parsed wrong: %+v", args)
	}
	if len(args.files) != 3 {
		t.Fatalf("files = %d, want 3", len(args.files))
	}

	want := []fileSpec{
		{name: "in.ply", actions: []splat.ProcessAction{
			splat.Translate{V: splat.Vec3{1, 2, 3}},
			splat.Scale{Factor: 0.5},
		}},
		{name: "second.splat", actions: []splat.ProcessAction{splat.FilterNaN{}}},
		{name: "out.sog", actions: []splat.ProcessAction{splat.FilterBands{Bands: 2}}},
	}
	for i, w := range want {
		if args.files[i].name != w.name {
			t.Errorf("file %d name = %q, want %q", i, args.files[i].name, w.name)
		}
		if !reflect.DeepEqual(args.files[i].actions, w.actions) {
			t.Errorf("file %d actions = %#v, want %#v", i, args.files[i].actions, w.actions)
		}
	}
}

func TestParseArgsActionBeforeFile(t *testing.T) {
	if _, err := parseArgs([]string{"-N", "in.ply", "out.ply"}); err == nil {
		t.Errorf("parseArgs accepted an action before any file")
	}
}

func TestParseArgsBoxUnbounded(t *testing.T) {
	args, err := parseArgs([]string{"in.ply", "-B", "0,-,,,,", "out.ply"})
	if err != nil {
		t.Fatalf("parseArgs failed, reason: %v", err)
	}
	box, ok := args.files[0].actions[0].(splat.FilterBox)
	if !ok {
		t.Fatalf("action is %T, want FilterBox", args.files[0].actions[0])
	}
	if box.Min[0] != 0 || !math.IsInf(box.Min[1], -1) || !math.IsInf(box.Min[2], -1) {
		t.Errorf("box min = %v", box.Min)
	}
	for k := 0; k < 3; k++ {
		if !math.IsInf(box.Max[k], 1) {
			t.Errorf("box max[%d] = %v, want +inf", k, box.Max[k])
		}
	}
}

func TestParseArgsParams(t *testing.T) {
	args, err := parseArgs([]string{"gen:grid", "-p", "size=8,step=0.5", "out.ply"})
	if err != nil {
		t.Fatalf("parseArgs failed, reason: %v", err)
	}
	want := []splat.ProcessAction{
		splat.Param{Name: "size", Value: "8"},
		splat.Param{Name: "step", Value: "0.5"},
	}
	if !reflect.DeepEqual(args.files[0].actions, want) {
		t.Errorf("params = %#v, want %#v", args.files[0].actions, want)
	}
}

func TestParseArgsVisibility(t *testing.T) {
	tests := []struct {
		in   string
		want splat.FilterVisibility
	}{
		{"5000", splat.FilterVisibility{Count: 5000}},
		{"25%", splat.FilterVisibility{Percent: 25, UsePercent: true}},
	}
	for _, tt := range tests {
		args, err := parseArgs([]string{"in.ply", "--filter-visibility", tt.in, "out.ply"})
		if err != nil {
			t.Fatalf("parseArgs(%q) failed, reason: %v", tt.in, err)
		}
		if !reflect.DeepEqual(args.files[0].actions[0], tt.want) {
			t.Errorf("visibility %q = %#v, want %#v", tt.in, args.files[0].actions[0], tt.want)
		}
	}
}

func TestParseArgsUnknownFlag(t *testing.T) {
	if _, err := parseArgs([]string{"in.ply", "--frobnicate", "out.ply"}); err == nil {
		t.Errorf("parseArgs accepted an unknown flag")
	}
}

func TestParseArgsLodSelect(t *testing.T) {
	args, err := parseArgs([]string{"-O", "0,2,3", "in.ply", "lod-meta.json"})
	if err != nil {
		t.Fatalf("parseArgs failed, reason: %v", err)
	}
	if !reflect.DeepEqual(args.lodSelect, []int{0, 2, 3}) {
		t.Errorf("lodSelect = %v, want [0 2 3]", args.lodSelect)
	}
}

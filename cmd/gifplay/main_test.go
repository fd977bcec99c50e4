// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rogpeppe/go-internal/gotooltest"
	"github.com/rogpeppe/go-internal/testscript"
)

var (
	update = flag.Bool("update", false, "update tests")
	keep   = flag.Bool("keep", false, "keep $WORK directory after tests")
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"gifplay": Main,
	}))
}

func TestScripts(t *testing.T) {
	t.Parallel()

	p := testscript.Params{
		Dir:           filepath.Join("testdata"),
		UpdateScripts: *update,
		TestWork:      *keep,
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"mkgif": mkgif,
			"sleep": sleep,
		},
	}
	if err := gotooltest.Setup(&p); err != nil {
		t.Fatal(err)
	}
	testscript.Run(t, p)
}

func sleep(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! sleep")
	}
	if len(args) != 1 {
		ts.Fatalf("usage: sleep duration")
	}
	d, err := time.ParseDuration(args[0])
	ts.Check(err)
	time.Sleep(d)
}

// mkgif writes a 4x4 GIF animation. Frames are filled with red, green
// and blue in turn with delays of 100, 200 and 150ms.
func mkgif(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkgif")
	}
	flags := flag.NewFlagSet("mkgif", flag.ContinueOnError)
	loop := flags.Int("loop", -1, "NETSCAPE2.0 loop count (-1 omits the block)")
	comment := flags.String("comment", "", "comment text")
	frames := flags.Int("frames", 3, "number of frames")
	err := flags.Parse(args)
	ts.Check(err)
	if flags.NArg() != 1 || *frames < 1 {
		ts.Fatalf("usage: mkgif [-loop n] [-comment text] [-frames n] file")
	}

	pal := color.Palette{
		color.Black,
		color.RGBA{R: 0xff, A: 0xff},
		color.RGBA{G: 0xff, A: 0xff},
		color.RGBA{B: 0xff, A: 0xff},
	}
	delays := []int{10, 20, 15}
	g := &gif.GIF{LoopCount: *loop}
	for i := range *frames {
		img := image.NewPaletted(image.Rect(0, 0, 4, 4), pal)
		for j := range img.Pix {
			img.Pix[j] = uint8(i%3 + 1)
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, delays[i%3])
	}
	var buf bytes.Buffer
	err = gif.EncodeAll(&buf, g)
	ts.Check(err)
	b := buf.Bytes()
	if *comment != "" {
		if len(*comment) > 255 {
			ts.Fatalf("comment too long")
		}
		// Insert a comment extension before the trailer.
		b = append(b[:len(b)-1:len(b)-1], 0x21, 0xfe, byte(len(*comment)))
		b = append(b, *comment...)
		b = append(b, 0x00, 0x3b)
	}
	ts.Check(os.WriteFile(ts.MkAbs(flags.Arg(0)), b, 0o644))
}

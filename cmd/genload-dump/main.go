// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/columnarhq/genload/gparser"
	"github.com/columnarhq/genload/gwdump"
)

func main() {
	verbose := flag.Bool("v", false, "hex-dump full cell payloads instead of eliding them")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"-"}
	}

	dumper := gwdump.New(os.Stdout)
	dumper.Verbose = *verbose

	var inbuf *bufio.Reader
	for _, arg := range args {
		var in *os.File
		if arg == "-" {
			in = os.Stdin
		} else {
			f, err := os.Open(arg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "can't open %q: %s\n", arg, err)
				os.Exit(1)
			}
			in = f
		}
		if inbuf == nil {
			inbuf = bufio.NewReader(in)
		} else {
			inbuf.Reset(in)
		}
		p := gparser.New(inbuf, dumper)
		if err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "input %s: %s\n", arg, err)
			dumper.Flush()
			os.Exit(1)
		}
	}
	if err := dumper.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

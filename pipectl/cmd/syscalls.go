// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/vsrinivas/fuchsia-sub100/pipectl/cmd/util"
	slinux "github.com/vsrinivas/fuchsia-sub100/pkg/sentry/syscalls/linux"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	format string
}

// syscallDoc is one row of the syscall listing.
type syscallDoc struct {
	num  uintptr
	name string
}

type outputFunc func(io.Writer, []syscallDoc) error

// outputMap maps output type names to output functions.
var outputMap = map[string]outputFunc{
	"table": outputTable,
	"csv":   outputCSV,
}

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "print the syscalls implemented for the host architecture"
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [-format=table|csv] - prints the syscall table
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.format, "format", "table", "output format: table (default) or csv.")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	out, ok := outputMap[s.format]
	if !ok {
		return util.Errorf("unsupported output format %q", s.format)
	}
	docs := syscallDocs()
	if len(docs) == 0 {
		return util.Errorf("no syscall table for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	if err := out(os.Stdout, docs); err != nil {
		return util.Errorf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// syscallDocs returns the host syscall table ordered by number.
func syscallDocs() []syscallDoc {
	var docs []syscallDoc
	for num, sc := range slinux.Table.Table {
		docs = append(docs, syscallDoc{num: num, name: sc.Name})
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].num < docs[j].num
	})
	return docs
}

func outputTable(w io.Writer, docs []syscallDoc) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "NUM\tNAME\n")
	for _, d := range docs {
		fmt.Fprintf(tw, "%d\t%s\n", d.num, d.name)
	}
	return tw.Flush()
}

func outputCSV(w io.Writer, docs []syscallDoc) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write([]string{"num", "name"}); err != nil {
		return err
	}
	for _, d := range docs {
		if err := csvWriter.Write([]string{strconv.FormatUint(uint64(d.num), 10), d.name}); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

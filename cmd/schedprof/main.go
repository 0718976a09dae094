// Command schedprof turns a scheduler trace (one "pid,name,duration_ns"
// line per dispatch; sched.Run itself writes no such trace) into a
// pprof profile, so time spent per task can be inspected with
// `go tool pprof` the same way CPU profiles are.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Printf("%s <trace.csv> <out.pprof>\n", os.Args[0])
		os.Exit(1)
	}

	in, err := os.Open(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	defer in.Close()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "cpu", Unit: "nanoseconds"}},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
	}

	funcs := map[string]*profile.Function{}
	locs := map[string]*profile.Location{}
	nextID := uint64(1)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			continue
		}
		pid, name, durStr := fields[0], fields[1], fields[2]
		dur, perr := strconv.ParseInt(durStr, 10, 64)
		if perr != nil {
			continue
		}

		key := pid + ":" + name
		fn, ok := funcs[key]
		if !ok {
			fn = &profile.Function{ID: nextID, Name: fmt.Sprintf("pid %s (%s)", pid, name)}
			nextID++
			p.Function = append(p.Function, fn)
			funcs[key] = fn
		}
		loc, ok := locs[key]
		if !ok {
			loc = &profile.Location{
				ID:   nextID,
				Line: []profile.Line{{Function: fn}},
			}
			nextID++
			p.Location = append(p.Location, loc)
			locs[key] = loc
		}

		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{dur},
		})
	}
	if serr := scanner.Err(); serr != nil {
		log.Fatal(serr)
	}

	out, err := os.Create(os.Args[2])
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	if err := p.Write(out); err != nil {
		log.Fatal(err)
	}
}

// Command instrumented is a manually instrumented program that
// exercises the recorder end to end:
//
//	go build -o instrumented ./demo/instrumented
//	callflight record -- ./instrumented
package main

import (
	"fmt"

	"github.com/saworbit/callflight/pkg/probe"
)

func fib(n int) int {
	defer probe.Trace()()
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}

func work() int {
	defer probe.Trace()()
	return fib(12)
}

func main() {
	probe.Init()
	defer probe.Fini()

	result := work()
	fmt.Printf("fib(12) = %d, recorded %d events\n", result, probe.Cursor())
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const confirmWord = "YES"

// confirmTwice asks for confirmWord on two separate prompts. Anything else,
// including end of input, declines.
func confirmTwice(in io.Reader, out io.Writer, prompts ...string) bool {
	sc := bufio.NewScanner(in)
	for _, prompt := range prompts {
		fmt.Fprintf(out, "%s Type %s to continue: ", prompt, confirmWord)
		if !sc.Scan() || strings.TrimSpace(sc.Text()) != confirmWord {
			fmt.Fprintln(out)
			return false
		}
	}
	return len(prompts) > 0
}

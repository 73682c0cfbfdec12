package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// Confirm asks a yes/no question on out and reads the answer from in.
// Anything but y or yes, including a read error, is a no.
func Confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read confirmation, assuming no")
		return false
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes", "s", "si", "sí":
		return true
	}
	return false
}

// Command reqgen is a small load generator for manual testing of the
// executor: it opens a connection and writes randomized three-byte
// request frames at a jittered interval, the same shape of traffic the
// executor's ingress boundary expects.
package main

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var (
		addr       string
		numTasks   int
		minDelayMs int
		maxDelayMs int
		count      int
	)

	root := &cobra.Command{
		Use:   "reqgen",
		Short: "Generate randomized executor request frames over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close()

			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			for i := 0; count <= 0 || i < count; i++ {
				frame := [3]byte{
					byte(rng.Intn(numTasks)),
					byte(rng.Intn(256)),
					byte(rng.Intn(256)),
				}
				if _, err := conn.Write(frame[:]); err != nil {
					return fmt.Errorf("write: %w", err)
				}
				delay := minDelayMs + rng.Intn(maxDelayMs-minDelayMs+1)
				time.Sleep(time.Duration(delay) * time.Millisecond)
			}
			return nil
		},
	}

	root.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "executor TCP address")
	root.Flags().IntVar(&numTasks, "n-tasks", 4, "number of task ids to spread requests across")
	root.Flags().IntVar(&minDelayMs, "min-delay-ms", 5, "minimum delay between requests")
	root.Flags().IntVar(&maxDelayMs, "max-delay-ms", 100, "maximum delay between requests")
	root.Flags().IntVar(&count, "count", 0, "number of requests to send (0 = unbounded)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

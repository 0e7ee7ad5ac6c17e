// cmd/kvcli is the CLI client for a kvnode cluster, speaking the binary
// wire protocol directly (spec §6) instead of HTTP/JSON.
//
// Usage:
//
//	kvcli set mykey "hello world"   --server localhost:7070
//	kvcli get mykey                 --server localhost:7070
//	kvcli delete mykey              --server localhost:7070
//	kvcli search "hello world" --mode or --server localhost:7070
//	kvcli semsearch "hello world" --k 5 --threshold 0.2
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kvnode/internal/client"
	"kvnode/internal/index"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "CLI client for a kvnode cluster",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s", "localhost:7070", "node client address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	root.AddCommand(setCmd(), getCmd(), deleteCmd(), bulkSetCmd(), searchCmd(), semSearchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial() (*client.Client, error) {
	return client.Dial(serverAddr, timeout)
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Set(args[0], []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			v, ok, err := c.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			existed, err := c.Delete(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("deleted %q (existed=%v)\n", args[0], existed)
			return nil
		},
	}
}

func bulkSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulkset <key1> <value1> [<key2> <value2> ...]",
		Short: "Store multiple key-value pairs atomically",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args)%2 != 0 {
				return fmt.Errorf("bulkset requires key/value pairs")
			}
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			pairs := make([]client.KV, 0, len(args)/2)
			for i := 0; i < len(args); i += 2 {
				pairs = append(pairs, client.KV{Key: args[i], Value: []byte(args[i+1])})
			}
			if err := c.BulkSet(pairs); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Exact token search over indexed values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			m := index.ModeAND
			if mode == "or" {
				m = index.ModeOR
			}
			keys, err := c.Search(args[0], m)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "and", "and | or")
	return cmd
}

func semSearchCmd() *cobra.Command {
	var k uint32
	var threshold float32
	cmd := &cobra.Command{
		Use:   "semsearch <query>",
		Short: "N-gram/Jaccard semantic search over indexed values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			results, err := c.SemSearch(args[0], k, threshold)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%s\t%.4f\n", r.Key, r.Score)
			}
			return nil
		},
	}
	cmd.Flags().Uint32Var(&k, "k", 10, "max results")
	cmd.Flags().Float32Var(&threshold, "threshold", 0.0, "minimum Jaccard score")
	return cmd
}

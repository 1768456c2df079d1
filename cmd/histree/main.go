package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/histree-io/histree/pkg/client"
	"github.com/histree-io/histree/pkg/editor"
	"github.com/histree-io/histree/pkg/render"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usageText = `Usage: histree [flags] <command> [args]

Commands:
  create <parent_node_id> <delta>    record an edit under a parent (delta is a JSON value)
  graph                              print the version graph
  tree                               draw the version tree as ASCII art
  navigate <current_node_id> <target_node_id>
                                     move the pointer and queue the change
  poll                               list pending changes, oldest first
  ack <node_id> [node_id ...]        acknowledge applied changes in order
  files                              list tracked files
  watch                              run the poll-and-apply editor loop
  version                            print build information

Flags:
  -api URL      daemon endpoint (default $HISTREE_ENDPOINT or http://127.0.0.1:8091)
  -file ID      file to operate on (default $HISTREE_FILE_ID or "default")
  -json         print raw JSON instead of formatted output
`

func main() {
	apiDefault := os.Getenv("HISTREE_ENDPOINT")
	if apiDefault == "" {
		apiDefault = "http://127.0.0.1:8091"
	}
	fileDefault := os.Getenv("HISTREE_FILE_ID")
	if fileDefault == "" {
		fileDefault = "default"
	}

	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	apiURL := flag.String("api", apiDefault, "daemon endpoint")
	fileID := flag.String("file", fileDefault, "file to operate on")
	rawJSON := flag.Bool("json", false, "print raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(1)
	}

	cli := client.NewClient(*apiURL)
	ctx := context.Background()

	var err error
	switch args[0] {
	case "create":
		err = cmdCreate(ctx, cli, *fileID, args[1:])
	case "graph":
		err = cmdGraph(ctx, cli, *fileID, *rawJSON)
	case "tree":
		err = cmdTree(ctx, cli, *fileID)
	case "navigate":
		err = cmdNavigate(ctx, cli, *fileID, args[1:])
	case "poll":
		err = cmdPoll(ctx, cli, *fileID, *rawJSON)
	case "ack":
		err = cmdAck(ctx, cli, *fileID, args[1:])
	case "files":
		err = cmdFiles(ctx, cli, *rawJSON)
	case "watch":
		err = cmdWatch(cli, *fileID)
	case "version":
		fmt.Printf("histree %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if strings.Contains(err.Error(), "connect") {
			fmt.Fprintln(os.Stderr, "Is histree-d running?")
		}
		os.Exit(1)
	}
}

func cmdCreate(ctx context.Context, cli *client.Client, fileID string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: histree create <parent_node_id> <delta>")
	}
	parent, delta := args[0], args[1]
	if !json.Valid([]byte(delta)) {
		return fmt.Errorf("delta is not valid JSON: %s", delta)
	}

	nodeID, err := cli.CreateNode(ctx, fileID, parent, json.RawMessage(delta))
	if err != nil {
		return err
	}
	fmt.Printf("Created node: %s\n", nodeID)
	return nil
}

func cmdGraph(ctx context.Context, cli *client.Client, fileID string, rawJSON bool) error {
	g, err := cli.Graph(ctx, fileID)
	if err != nil {
		return err
	}
	if rawJSON {
		return printJSON(g)
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("file: %s (%d nodes)\n", fileID, len(g.Nodes))
	for _, id := range ids {
		n := g.Nodes[id]
		marker := " "
		if id == g.CurrentNodeID {
			marker = "*"
		}
		parent := "-"
		if len(n.Parents) > 0 {
			parent = n.Parents[0]
		}
		fmt.Printf("%s %s  parent=%s  children=%d  delta=%s\n", marker, id, parent, len(n.Children), compactDelta(n.Delta))
	}
	return nil
}

func cmdTree(ctx context.Context, cli *client.Client, fileID string) error {
	g, err := cli.Graph(ctx, fileID)
	if err != nil {
		return err
	}

	tree := render.Tree{Children: make(map[string][]string, len(g.Nodes))}
	for id, n := range g.Nodes {
		if len(n.Parents) == 0 {
			tree.Root = id
		}
		tree.Children[id] = n.Children
	}
	fmt.Printf("current: %s\n\n", g.CurrentNodeID)
	fmt.Println(render.Draw(tree, render.Options{CurrentID: g.CurrentNodeID}))
	return nil
}

func cmdNavigate(ctx context.Context, cli *client.Client, fileID string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: histree navigate <current_node_id> <target_node_id>")
	}
	mode, err := cli.Navigate(ctx, fileID, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Mode: %s\n", mode)
	return nil
}

func cmdPoll(ctx context.Context, cli *client.Client, fileID string, rawJSON bool) error {
	changes, err := cli.Changes(ctx, fileID)
	if err != nil {
		return err
	}
	if rawJSON {
		return printJSON(changes)
	}
	if len(changes) == 0 {
		fmt.Println("No pending changes.")
		return nil
	}
	for i, ch := range changes {
		fmt.Printf("%d. [%s] %s  delta=%s\n", i+1, ch.Mode, ch.NodeID, compactDelta(ch.Delta))
	}
	return nil
}

func cmdAck(ctx context.Context, cli *client.Client, fileID string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: histree ack <node_id> [node_id ...]")
	}
	remaining, err := cli.Ack(ctx, fileID, args)
	if err != nil {
		return err
	}
	fmt.Printf("Acknowledged %d change(s); %d still pending.\n", len(args), remaining)
	return nil
}

func cmdFiles(ctx context.Context, cli *client.Client, rawJSON bool) error {
	files, err := cli.Files(ctx)
	if err != nil {
		return err
	}
	if rawJSON {
		return printJSON(files)
	}
	if len(files) == 0 {
		fmt.Println("No files tracked yet.")
		return nil
	}
	for _, f := range files {
		fmt.Printf("%s  nodes=%d  pending=%d  current=%s\n", f.FileID, f.NodeCount, f.PendingCount, f.CurrentNodeID)
	}
	return nil
}

// cmdWatch runs the conforming editor loop until interrupted: poll,
// print each change, acknowledge what was printed.
func cmdWatch(cli *client.Client, fileID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s (ctrl-c to stop)\n", fileID)
	ed := editor.New(cli, editor.Config{
		FileID: fileID,
		Handler: func(ch client.Change) error {
			fmt.Printf("[%s] %s  delta=%s\n", ch.Mode, ch.NodeID, compactDelta(ch.Delta))
			return nil
		},
	})
	ed.Run(ctx)
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func compactDelta(delta json.RawMessage) string {
	if len(delta) == 0 {
		return "null"
	}
	s := string(delta)
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

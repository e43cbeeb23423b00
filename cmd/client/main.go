// Command client is a terminal client for a shared todo list. It runs the
// sync engine against a server: edits are buffered locally and flushed in
// the background, and every pushed snapshot is re-rendered as it arrives.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sharedo/sharedo/internal/models"
	"github.com/sharedo/sharedo/internal/store"
	"github.com/sharedo/sharedo/internal/syncengine"
)

func main() {
	if err := mainInner(); err != nil {
		log.Fatal(err)
	}
}

func mainInner() error {
	serverVar := flag.String("server", "http://127.0.0.1:8080", "base URL of the sync server")
	listVar := flag.String("list", "", "list id to open (empty creates a new list)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No client timeout: chunk POSTs retry forever and the event stream
	// stays open.
	client := syncengine.NewClient(*serverVar, &http.Client{})

	listID := *listVar
	if listID == "" {
		var err error
		listID, err = client.NewListID(ctx)
		if err != nil {
			return fmt.Errorf("failed to create list: %w", err)
		}
		fmt.Printf("created list %s\n", listID)
	}
	fmt.Printf("share %s/%s to collaborate\n", strings.TrimRight(*serverVar, "/"), listID)

	engine := syncengine.NewEngine(client, listID, syncengine.Options{
		Logger: log.New(os.Stderr, "", log.LstdFlags),
	})

	initial, latency, err := client.FetchList(ctx, listID, store.Eventual)
	if err != nil {
		return fmt.Errorf("failed to fetch list: %w", err)
	}
	if latency != "" {
		fmt.Printf("initial data fetched in %sms\n", latency)
	}
	render(initial, engine.Busy())

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("engine stopped: %v", err)
		}
	}()

	go func() {
		for list := range engine.Updates() {
			render(list, engine.Busy())
		}
	}()

	go readCommands(cancel, engine)

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		log.Printf("signal caught: %v", sig)
	case <-ctx.Done():
	}
	cancel()
	return nil
}

func readCommands(cancel context.CancelFunc, engine *syncengine.Engine) {
	fmt.Println(`commands: add <text> | edit <n> <text> | toggle <n> | del <n> | ls | quit`)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 2)
		cmd := fields[0]
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}
		switch cmd {
		case "":
		case "add":
			if arg == "" {
				fmt.Println("usage: add <text>")
				continue
			}
			engine.Add(arg)
		case "edit":
			parts := strings.SplitN(arg, " ", 2)
			if len(parts) < 2 {
				fmt.Println("usage: edit <n> <text>")
				continue
			}
			item, ok := itemAt(engine, parts[0])
			if !ok {
				fmt.Println("usage: edit <n> <text>")
				continue
			}
			text := parts[1]
			engine.Save(item.ID, &text, item.Completed)
		case "toggle":
			item, ok := itemAt(engine, arg)
			if !ok {
				fmt.Println("usage: toggle <n>")
				continue
			}
			text := item.Text
			engine.Save(item.ID, &text, !item.Completed)
		case "del":
			item, ok := itemAt(engine, arg)
			if !ok {
				fmt.Println("usage: del <n>")
				continue
			}
			engine.Delete(item.ID)
		case "ls":
			render(engine.Data(), engine.Busy())
		case "quit", "exit":
			cancel()
			return
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
	cancel()
}

func itemAt(engine *syncengine.Engine, arg string) (models.TodoListItem, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return models.TodoListItem{}, false
	}
	items := engine.Data().Items
	if n < 1 || n > len(items) {
		return models.TodoListItem{}, false
	}
	return items[n-1], true
}

func render(list models.TodoList, busy bool) {
	status := "synced"
	if busy {
		status = "syncing"
	}
	fmt.Printf("-- todo list (%d items, %s) --\n", len(list.Items), status)
	for i, item := range list.Items {
		mark := " "
		if item.Completed {
			mark = "x"
		}
		created := time.UnixMilli(item.CreatedAt).Format(time.RFC3339)
		fmt.Printf("%3d [%s] %s  (%s)\n", i+1, mark, item.Text, created)
	}
}

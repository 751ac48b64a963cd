// Package deluge implements the JSON-RPC interface of the Deluge web UI for
// btrpc.
//
// The password in the URL is used to log in to the web UI, which is then
// connected to its first configured daemon if necessary. Daemon methods like
// "core.get_torrents_status" are proxied by the web UI.
//
// Events are queued by the web UI once a listener is registered, which
// AddEventHandler does. They are delivered by PollEvents or WatchEvents:
//
//	client, err := deluge.New(btrpc.WithURL("http://:deluge@localhost:8112/json"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.AddEventHandler(ctx, "TorrentAddedEvent", func(args ...any) {
//	    fmt.Println("added:", args[0])
//	})
//	go client.WatchEvents(ctx, time.Second)
package deluge

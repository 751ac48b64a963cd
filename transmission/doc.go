// Package transmission implements the Transmission RPC interface for btrpc.
//
// Requests are POSTed as JSON to the RPC URL. The session id Transmission
// requires is negotiated on connect and refreshed whenever the daemon
// answers with 409 Conflict.
//
//	client, err := transmission.New(btrpc.WithURL("http://localhost:9091/transmission/rpc"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	reply, err := client.Call(ctx, "torrent-get", transmission.Arguments{"fields": []string{"name"}})
package transmission

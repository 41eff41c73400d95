// Package capability discovers capability servers over MQTT and turns
// their advertised tools into a validated, callable catalog.
//
// Servers announce themselves on retained presence topics. Each Client
// watches a name-filtered slice of that space, runs the initialize
// handshake against every announced server, and tracks per-server
// connection state in its own Registry. Connected servers expose tools
// through tools/list and tools/call on per-client RPC topics; the catalog
// wraps those tools with argument validation and normalizes heterogeneous
// result payloads to plain text for the Responder.
//
// Clients are scoped: a device session derives its name filter from the
// device id (ServerNameFilter), so each device sees only its own servers.
// Every client owns a dedicated broker connection; sharing one would make
// identical presence filters collide.
//
// Usage:
//
//	filter, err := capability.ServerNameFilter(cfg.Capability.Scope, deviceID)
//	if err != nil {
//	    return err
//	}
//
//	client, err := capability.NewClient(capability.Options{
//	    Broker:     broker,
//	    ClientID:   "voicelink-" + deviceID,
//	    NameFilter: filter,
//	    Config:     cfg.Capability,
//	    Logger:     log,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := client.Start(); err != nil {
//	    return err
//	}
//	defer client.Stop()
//
//	// Block until the first handshake settles or the window elapses.
//	if err := client.WaitReady(ctx); err != nil {
//	    return err
//	}
//
//	catalog := capability.BuildCatalog(ctx, client, capability.BuildOptions{Logger: log})
//	for _, tool := range catalog.Tools() {
//	    text, err := tool.Call(ctx, map[string]any{})
//	    ...
//	}
package capability

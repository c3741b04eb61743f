// Package socketclient is a client for the chat server's line protocol.
//
// A Client runs one connection. Requests are issued one at a time and are
// matched to the next reply frame, since the server answers in order and
// frames carry no request ids. Broadcasts and unsolicited errors are passed
// to callbacks as they arrive.
//
// Basic usage:
//
//	client := socketclient.NewClient("127.0.0.1:5555")
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close()
//
//	client.SetBroadcastCallback(func(b protocol.Broadcast) {
//		fmt.Printf("[%s] %s\n", b.Sender, b.Content)
//	})
//
//	user, err := client.Login(ctx, "profe", "123")
//	rooms, err := client.GetRooms(ctx)
//	joined, err := client.Join(ctx, rooms[0].ID)
//	err = client.Send("Hola")
package socketclient

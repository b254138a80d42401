// Package node is the client side of mechOS: a process-local attachment to
// the broker that owns publishers and subscribers and executes the broker's
// directives.
//
// Data flows directly between nodes. A TCP publisher listens and accepts one
// connection per matched subscriber; the subscriber dials and first writes
// its 32-character id so the publisher can key the connection. A UDP
// publisher sends datagrams to every recorded subscriber address. Every
// frame is exactly Format.Size() bytes with no header.
//
// Intake is poll-driven: subscribers deliver nothing until the application
// calls SpinOnce (or runs Spin).
//
//	n, err := node.New(*node.NewConfig("listener"))
//	if err != nil { ... }
//	if err := n.Start(ctx); err != nil { ... }
//	defer n.Close(context.Background())
//
//	_, err = n.CreateSubscriber(ctx, "chatter", codec.NewFloatArray(4),
//		func(msg any) { fmt.Println(msg.([]float32)) },
//		node.SubscriberOptions{Protocol: mechos.UDP})
//	go n.Spin(ctx, 10*time.Millisecond)
package node

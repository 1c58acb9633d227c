// Package printer is a host for motion-controller firmware on a serial line.
//
// A Conn numbers every outbound command, appends its checksum and keeps the
// last lines in a resend history. Sending is paced by a counting token gate:
// each ok received releases one token, a flow.Controller attached as the
// Conn's Handler may release extra ones through the flow.Host methods, and a
// missing ok releases one after the ok timeout.
//
//	cfg, _ := printer.NewConfig(printer.WithTokenCapacity(4))
//	conn, _ := printer.NewConn(port, cfg)
//	ctrl, _ := flow.NewController(conn)
//	go conn.Run(ctx, ctrl)
//	err := conn.Print(ctx, printer.NewLineSource(file))
package printer

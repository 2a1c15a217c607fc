package ftp

// ProgressFunc receives one TransferProgress update per chunk boundary of a
// Put or Get.
type ProgressFunc func(progress TransferProgress)

// progressObserver adapts a bare ProgressFunc to the Observer interface so
// callers that only care about transfer progress don't have to implement
// the full interface.
type progressObserver struct {
	BaseObserver
	fn ProgressFunc
}

func (p *progressObserver) OnTransferProgress(progress TransferProgress) {
	p.fn(progress)
}

// OnProgress registers fn to be called at each chunk boundary of every
// subsequent Put and Get on the client.
//
// Example:
//
//	client.OnProgress(func(p ftp.TransferProgress) {
//	    fmt.Printf("%d bytes transferred (%.1f KB/s)\n", p.TotalBytes, p.BytesPerSecond/1024)
//	})
func (c *Client) OnProgress(fn ProgressFunc) {
	c.AddObserver(&progressObserver{fn: fn})
}

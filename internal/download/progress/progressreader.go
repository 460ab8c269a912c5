package progress

import "io"

// Reader wraps an io.Reader and reports how many bytes have passed
// through it via a callback, at most once per reportInterval bytes.
type Reader struct {
	reader     io.Reader
	total      int64
	onProgress func(copied int64, total int64)

	copied         int64
	sinceReport    int64
	reportInterval int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(copied int64, total int64)) *Reader {
	return &Reader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.copied += int64(n)
		pr.sinceReport += int64(n)

		if pr.onProgress != nil && pr.sinceReport >= pr.reportInterval {
			pr.onProgress(pr.copied, pr.total)
			pr.sinceReport = 0
		}
	}

	return n, err
}

// Copied returns the number of bytes read so far.
func (pr *Reader) Copied() int64 {
	return pr.copied
}

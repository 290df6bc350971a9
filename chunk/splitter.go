package chunk

import "bytes"

var bom = []byte("\xef\xbb\xbf")

// splitter cuts a stream of blocks into lines. A line that spans blocks is
// carried over until its newline, or until finish. A UTF-8 byte order mark
// in front of the first line is dropped.
type splitter struct {
	carry   []byte
	started bool
	emit    func(line []byte) error
}

func (s *splitter) feed(block []byte) error {
	for {
		i := bytes.IndexByte(block, '\n')
		if i < 0 {
			s.carry = append(s.carry, block...)
			return nil
		}

		line := block[:i]
		if len(s.carry) > 0 {
			s.carry = append(s.carry, line...)
			line = s.carry
		}
		if err := s.line(line); err != nil {
			return err
		}
		s.carry = s.carry[:0]
		block = block[i+1:]
	}
}

// finish emits the trailing line when the input does not end in a newline.
func (s *splitter) finish() error {
	if len(s.carry) == 0 {
		return nil
	}
	line := s.carry
	s.carry = nil
	return s.line(line)
}

func (s *splitter) line(line []byte) error {
	if !s.started {
		s.started = true
		line = bytes.TrimPrefix(line, bom)
	}
	return s.emit(trimCR(line))
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

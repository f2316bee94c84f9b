// GOMailSync
// Copyright (C) 2014 Simone Gotti <simone.gotti@gmail.com>
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

// Package imapmock is a scripted IMAP server for tests. Scripts are lists
// of "C: " lines expected from the client and "S: " lines sent back. TAGn
// stands for the n-th distinct tag used by the client in the script.
//
// Idea and some code took from go-imap (github.com/mxk/go-imap/mock)
package imapmock

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

var crlf = []byte{'\r', '\n'}

type (
	// Send is written to the client as is, followed by CRLF.
	Send []byte
	// Recv is read from the client, byte for byte.
	Recv []byte
)

// Logout returns the script lines answering a LOGOUT sent with tag n.
func Logout(n int) []interface{} {
	return []interface{}{
		fmt.Sprintf("C: TAG%d LOGOUT", n),
		`S: * BYE LOGOUT requested`,
		fmt.Sprintf("S: TAG%d OK Quit completed", n),
	}
}

// Lines flattens script parts into one script.
func Lines(parts ...interface{}) []interface{} {
	script := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		if l, ok := p.([]interface{}); ok {
			script = append(script, l...)
			continue
		}
		script = append(script, p)
	}
	return script
}

type Server struct {
	t        testing.TB
	l        net.Listener
	greeting string
}

func newLocalListener() net.Listener {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if l, err = net.Listen("tcp6", "[::1]:0"); err != nil {
			panic(fmt.Sprintf("imapmock: failed to listen on a port: %v", err))
		}
	}
	return l
}

func NewServer(t testing.TB, greeting string) *Server {
	s := &Server{t: t, l: newLocalListener(), greeting: greeting}
	t.Cleanup(func() { s.l.Close() })
	return s
}

// Addr returns the host and port the server listens on.
func (s *Server) Addr() (string, uint16) {
	host, portstr, _ := net.SplitHostPort(s.l.Addr().String())
	port, _ := strconv.ParseUint(portstr, 10, 16)
	return host, uint16(port)
}

// Serve accepts the next connection in the background, greets it and plays
// script on it. The session closes the connection at the end of the
// script.
func (s *Server) Serve(script ...interface{}) *Session {
	c := &Session{t: s.t, done: make(chan interface{}, 1)}
	go func() {
		defer func() {
			c.done <- recover()
			close(c.done)
			if c.cn != nil {
				c.cn.Close()
			}
		}()
		cn, err := s.l.Accept()
		if err != nil {
			panicf("accept: %v", err)
		}
		c.cn = cn
		c.rw = bufio.NewReadWriter(bufio.NewReader(cn), bufio.NewWriter(cn))
		if _, err := c.write([]byte(s.greeting)); err != nil {
			panicf("greeting: %v", err)
		}
		c.play(Lines(script...))
	}()
	return c
}

// Session is one scripted client connection.
type Session struct {
	t    testing.TB
	cn   net.Conn
	rw   *bufio.ReadWriter
	tags []string
	done chan interface{}
}

// Wait blocks until the script ends and fails the test if it didn't run
// as expected.
func (c *Session) Wait() {
	select {
	case err := <-c.done:
		if err != nil {
			c.t.Errorf(cl("imapmock: %v"), err)
		}
	case <-time.After(30 * time.Second):
		c.t.Errorf(cl("imapmock: script timed out"))
	}
}

func (c *Session) play(script []interface{}) {
	for ln, v := range script {
		switch ln++; v := v.(type) {
		case string:
			switch {
			case strings.HasPrefix(v, "S: "):
				_, err := c.writeString(v[3:])
				c.flush(ln, v, err)
			case strings.HasPrefix(v, "C: "):
				b, _, err := c.rw.ReadLine()
				c.compare(ln, v[3:], string(b), err)
			default:
				panicf(`[#%d] %+q must be prefixed with "S: " or "C: "`, ln, v)
			}
		case Send:
			_, err := c.write(v)
			c.flush(ln, v, err)
		case Recv:
			b := make([]byte, len(v))
			_, err := io.ReadFull(c.rw, b)
			c.compare(ln, string(v), string(b), err)
		default:
			panicf("[#%d] %T is not a valid script action", ln, v)
		}
	}
}

func (c *Session) flush(ln int, v interface{}, err error) {
	if err == nil {
		err = c.rw.Flush()
	}
	if err != nil {
		panicf("[#%d] %+q write error: %v", ln, v, err)
	}
}

// compare panics if the client line b doesn't match the expected line v.
func (c *Session) compare(ln int, v, b string, err error) {
	if err != nil {
		panicf("[#%d] expected %+q; read error %v", ln, v, err)
	}
	expected := strings.SplitN(v, " ", 2)
	got := strings.SplitN(b, " ", 2)
	if strings.HasPrefix(expected[0], "TAG") {
		tagidx, aerr := strconv.Atoi(strings.TrimPrefix(expected[0], "TAG"))
		if aerr != nil {
			panicf("[#%d] bad tag placeholder %q", ln, expected[0])
		}
		if index(c.tags, got[0]) < 0 {
			c.tags = append(c.tags, got[0])
		}
		if idx := index(c.tags, got[0]); idx != tagidx {
			panicf("[#%d] expected tag TAG%d; got %q (TAG%d)", ln, tagidx, got[0], idx)
		}
		expected[0] = got[0]
	}
	if len(expected) != len(got) || strings.Join(expected, " ") != b {
		panicf("[#%d] expected %+q; got %+q", ln, v, b)
	}
}

func index(s []string, e string) int {
	for i, a := range s {
		if a == e {
			return i
		}
	}
	return -1
}

func (c *Session) writeString(s string) (int, error) {
	split := strings.SplitN(s, " ", 2)
	if strings.HasPrefix(split[0], "TAG") && len(split) == 2 {
		tagidx, _ := strconv.Atoi(strings.TrimPrefix(split[0], "TAG"))
		if tagidx >= len(c.tags) {
			panicf("TAG%d used before the client sent it", tagidx)
		}
		s = c.tags[tagidx] + " " + split[1]
	}
	return c.write([]byte(s))
}

func (c *Session) write(data []byte) (n int, err error) {
	if n, err = c.rw.Write(data); err != nil {
		return
	}
	if _, err = c.rw.Write(crlf); err != nil {
		return
	}
	return n, c.rw.Flush()
}

func cl(s string) string {
	_, testFile, line, ok := runtime.Caller(2)
	if ok && strings.HasSuffix(testFile, "_test.go") {
		return fmt.Sprintf("%d: %s", line, s)
	}
	return s
}

func panicf(format string, v ...interface{}) {
	panic(fmt.Sprintf(format, v...))
}

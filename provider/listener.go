// listener.go - provider TCP listener management
// Copyright (C) 2019  David Anthony Stainton
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package provider

import (
	"container/list"
	"net"
	"sync"

	"github.com/op/go-logging"
	"golang.org/x/net/netutil"
)

// listener owns one accept loop and the connections it spawned.
// Halting the listener cancels every child connection handler.
type listener struct {
	sync.WaitGroup
	sync.Mutex

	l   net.Listener
	log *logging.Logger

	connectionCallback func(net.Conn) error
	conns              *list.List

	closeAllOnce sync.Once
	closeAllCh   chan interface{}
	closeAllWg   sync.WaitGroup
}

func (l *listener) halt() {
	// Close the listener, wait for worker() to return.
	l.l.Close()
	l.Wait()

	// Close all connections belonging to the listener.
	l.closeAllOnce.Do(func() { close(l.closeAllCh) })
	l.Lock()
	for e := l.conns.Front(); e != nil; e = e.Next() {
		e.Value.(net.Conn).Close()
	}
	l.Unlock()
	l.closeAllWg.Wait()
}

func (l *listener) worker() {
	addr := l.l.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer func() {
		l.log.Noticef("Stopping listening on: %v", addr)
		l.l.Close() // Usually redundant, but harmless.
		l.Done()
	}()
	for {
		conn, err := l.l.Accept()
		if err != nil {
			if e, ok := err.(net.Error); ok && !e.Temporary() {
				l.log.Errorf("Critical accept failure: %v", err)
				return
			}
			l.log.Debugf("Transient accept failure: %v", err)
			continue
		}

		l.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())

		go l.onNewConn(conn)
	}

	// NOTREACHED
}

func (l *listener) onNewConn(conn net.Conn) {
	l.closeAllWg.Add(1)
	l.Lock()
	e := l.conns.PushFront(conn)
	l.Unlock()

	defer func() {
		conn.Close()
		l.Lock()
		l.conns.Remove(e)
		l.Unlock()
		l.closeAllWg.Done()
	}()

	select {
	case <-l.closeAllCh:
		return
	default:
	}
	if err := l.connectionCallback(conn); err != nil {
		l.log.Error(err)
	}
}

// newListener binds addr and starts the accept loop. A maxConns greater
// than zero caps concurrent connections instead of delegating
// backpressure to the OS accept queue.
func newListener(addr string, maxConns int, connectionCallback func(net.Conn) error, log *logging.Logger) (*listener, error) {
	var err error

	l := new(listener)
	l.connectionCallback = connectionCallback
	l.log = log
	l.conns = list.New()
	l.closeAllCh = make(chan interface{})
	l.Add(1)

	l.l, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		l.l = netutil.LimitListener(l.l, maxConns)
	}

	go l.worker()
	return l, nil
}

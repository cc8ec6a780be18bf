// Package client is a small REPL speaking the get/put/ok/redirect protocol
// of spec.md §6 directly over UDP, for manually exercising a running
// cluster. Grounded on the teacher's kvstore/client/cli_client.go REPL
// shape, rewritten against the wire protocol instead of the teacher's
// common.RPCManager abstraction, and using go.uber.org/atomic for the
// round-robin "which node to try first" counter the way the teacher's
// benchmarks package uses atomics for shared counters under concurrent
// load.
package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"raftkv/transport"
	"raftkv/wire"
)

// Client follows redirects transparently: each call starts at its
// last-known leader guess and retries against whatever leader a redirect
// names, falling back to round-robining through the known node list if the
// believed leader is unknown.
type Client struct {
	id       string
	nodes    []string
	lastTry  atomic.Int64
	adapter  *transport.Adapter
	timeout  time.Duration
	believed string
}

// New builds a Client bound to its own ephemeral UDP socket, pointed at the
// same relay every replica in nodes is reachable through.
func New(id string, nodes []string, relayPort int) (*Client, error) {
	adapter, err := transport.NewAdapter(relayPort)
	if err != nil {
		return nil, err
	}
	return &Client{
		id:       id,
		nodes:    append([]string(nil), nodes...),
		adapter:  adapter,
		timeout:  2 * time.Second,
		believed: wire.Broadcast,
	}, nil
}

func (c *Client) Close() error {
	return c.adapter.Close()
}

func (c *Client) nextGuess() string {
	if c.believed != "" && c.believed != wire.Broadcast {
		return c.believed
	}
	i := c.lastTry.Add(1) % int64(len(c.nodes))
	return c.nodes[i]
}

// roundTrip sends msg at successive guesses until it gets a non-redirect
// reply or exhausts the client's retry budget.
func (c *Client) roundTrip(msg wire.Message) (wire.Message, error) {
	msg.Src = c.id
	msg.Leader = wire.Broadcast

	deadline := time.Now().Add(c.timeout * time.Duration(len(c.nodes)+1))
	for time.Now().Before(deadline) {
		msg.Dst = c.nextGuess()
		if err := c.adapter.Send(msg); err != nil {
			return wire.Message{}, err
		}

		select {
		case raw := <-c.adapter.Inbound():
			resp, err := wire.Decode(raw)
			if err != nil {
				continue
			}
			if resp.Type == wire.Redirect {
				c.believed = resp.Leader
				continue
			}
			c.believed = resp.Src
			return resp, nil
		case <-time.After(c.timeout):
			c.believed = wire.Broadcast
		}
	}
	return wire.Message{}, fmt.Errorf("client: no reply to %s after retrying every known node", msg.Type)
}

// Get issues a get for key and returns its value (empty string if unset).
func (c *Client) Get(key string) (string, error) {
	resp, err := c.roundTrip(wire.Message{Type: wire.Get, MID: uuid.NewString(), Key: key})
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

// Set issues a put for key=value and waits for commit.
func (c *Client) Set(key, value string) error {
	_, err := c.roundTrip(wire.Message{Type: wire.Put, MID: uuid.NewString(), Key: key, Value: value})
	return err
}

// RunREPL reads GET/SET commands from in and writes results to out, in the
// style of the teacher's RunCliClient.
func RunREPL(c *Client, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "<<<< KV Store Using Raft >>>>")
	fmt.Fprintln(out, "Available commands: ")
	fmt.Fprintln(out, "\t GET <key>")
	fmt.Fprintln(out, "\t SET <key> <val>")
	fmt.Fprintln(out)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "$ ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "GET":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: GET <key>")
				continue
			}
			val, err := c.Get(fields[1])
			if err != nil {
				fmt.Fprintln(out, err)
			} else {
				fmt.Fprintf(out, "%s = %s, OK\n", fields[1], val)
			}
		case "SET":
			if len(fields) != 3 {
				fmt.Fprintln(out, "usage: SET <key> <val>")
				continue
			}
			if err := c.Set(fields[1], fields[2]); err != nil {
				fmt.Fprintln(out, err)
			} else {
				fmt.Fprintf(out, "%s = %s, OK\n", fields[1], fields[2])
			}
		default:
			fmt.Fprintln(out, "Incorrect command")
		}
	}
}

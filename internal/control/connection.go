package control

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/player"
)

const greeting = "OK DISCONIC 1.0\n"

// handleConnection handles a single control client connection
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	logger := s.logger.With(zap.String("conn", uuid.NewString()), zap.Stringer("remote", conn.RemoteAddr()))
	logger.Debug("Client connected")

	fmt.Fprint(conn, greeting)

	// Lines are read in the background so an idle wait can watch for noidle
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Debug("Connection error", zap.Error(err))
		}
	}()

	inCommandList := false
	commandListOk := false // list_OK after each command
	var commandList []string

	for line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		logger.Debug("Command", zap.String("line", line))

		switch line {
		case "command_list_begin", "command_list_ok_begin":
			inCommandList = true
			commandListOk = line == "command_list_ok_begin"
			commandList = commandList[:0]
			continue
		case "command_list_end":
			if inCommandList {
				fmt.Fprint(conn, s.runCommandList(commandList, commandListOk))
				inCommandList = false
			}
			continue
		}

		if inCommandList {
			commandList = append(commandList, line)
			continue
		}

		cmd, args, err := splitCommand(line)
		if err != nil {
			fmt.Fprint(conn, ack(ackErrorArg, 0, "", err.Error()))
			continue
		}

		switch cmd {
		case "close":
			return
		case "idle":
			response, open := s.idle(args, lines)
			fmt.Fprint(conn, response)
			if !open {
				return
			}
			continue
		case "noidle":
			// Not idling; nothing to cancel
			fmt.Fprint(conn, "OK\n")
			continue
		}

		fmt.Fprint(conn, s.handleCommand(context.Background(), cmd, args, 0))
	}

	logger.Debug("Client disconnected")
}

// runCommandList executes buffered commands, stopping at the first failure
func (s *Server) runCommandList(lines []string, listOK bool) string {
	var b strings.Builder
	for i, line := range lines {
		cmd, args, err := splitCommand(line)
		var response string
		if err != nil {
			response = ack(ackErrorArg, i, "", err.Error())
		} else {
			response = s.handleCommand(context.Background(), cmd, args, i)
		}
		if strings.HasPrefix(response, "ACK ") {
			b.WriteString(response)
			return b.String()
		}
		b.WriteString(strings.TrimSuffix(response, "OK\n"))
		if listOK {
			b.WriteString("list_OK\n")
		}
	}
	b.WriteString("OK\n")
	return b.String()
}

// idle waits for a session change. Arguments are subsystem names or a
// guild ID to restrict the wait to. A "noidle" line from the client ends the
// wait early; open is false if the client went away meanwhile.
func (s *Server) idle(args []string, lines <-chan string) (response string, open bool) {
	idle := &idleConnection{
		subsystems: make(map[string]bool),
		notify:     make(chan player.Event, 10),
		cancel:     make(chan struct{}),
	}
	for _, arg := range args {
		switch sub := player.Subsystem(strings.ToLower(arg)); sub {
		case player.SubsystemPlayer, player.SubsystemPlaylist, player.SubsystemSession:
			idle.subsystems[string(sub)] = true
		default:
			idle.guildID = arg
		}
	}

	s.registerIdle(idle)
	defer s.unregisterIdle(idle)

	select {
	case ev := <-idle.notify:
		return fmt.Sprintf("changed: %s\nguild: %s\nOK\n", ev.Subsystem, ev.GuildID), true
	case <-idle.cancel:
		return "OK\n", true
	case line, ok := <-lines:
		if !ok {
			return "", false
		}
		if strings.TrimSpace(line) == "noidle" {
			return "OK\n", true
		}
		// Anything else while idling is a protocol error
		return ack(ackErrorArg, 0, "idle", "only noidle is allowed while idle"), true
	}
}

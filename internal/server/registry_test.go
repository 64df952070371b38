package server

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	r := NewRegistry(zerolog.Nop())
	r.now = func() time.Time {
		return time.Date(2026, 8, 27, 12, 34, 56, 0, time.UTC)
	}
	return r
}

// TestTryRegisterUniqueness races many workers claiming the same name and
// verifies exactly one wins.
func TestTryRegisterUniqueness(t *testing.T) {
	registry := newTestRegistry()

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan RegisterResult, racers)

	for i := 0; i < racers; i++ {
		session, _ := newTestSession(t, "")
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- registry.TryRegister("dave", session)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for result := range results {
		if result == RegisterOK {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one racing registration must succeed")
	assert.Equal(t, 1, registry.Len())
}

// TestTryRegisterCollisionLeavesWinnerIntact verifies a losing registration
// does not disturb the existing member.
func TestTryRegisterCollisionLeavesWinnerIntact(t *testing.T) {
	registry := newTestRegistry()

	alice, _ := newTestSession(t, "alice")
	require.Equal(t, RegisterOK, registry.TryRegister("alice", alice))

	impostor, _ := newTestSession(t, "")
	require.Equal(t, RegisterNameTaken, registry.TryRegister("alice", impostor))

	assert.Equal(t, []string{"alice"}, registry.ListNames())
}

// TestRegisterAnnouncesJoinToOthers checks the join announcement reaches
// existing members only.
func TestRegisterAnnouncesJoinToOthers(t *testing.T) {
	registry := newTestRegistry()

	alice, aliceConn := newTestSession(t, "alice")
	require.Equal(t, RegisterOK, registry.TryRegister("alice", alice))

	bob, bobConn := newTestSession(t, "bob")
	require.Equal(t, RegisterOK, registry.TryRegister("bob", bob))

	expectLine(t, aliceConn, "bob joined the chat!")
	expectNoLine(t, bobConn, "joined the chat!")
}

// TestBroadcastExcludesSender verifies a plain chat message never appears in
// its sender's outbound stream.
func TestBroadcastExcludesSender(t *testing.T) {
	registry := newTestRegistry()

	alice, aliceConn := newTestSession(t, "alice")
	bob, bobConn := newTestSession(t, "bob")
	require.Equal(t, RegisterOK, registry.TryRegister("alice", alice))
	require.Equal(t, RegisterOK, registry.TryRegister("bob", bob))

	registry.BroadcastChat("alice", "hi")

	expectLine(t, bobConn, "[12:34:56] alice: hi")
	expectNoLine(t, aliceConn, "alice: hi")
}

// TestBroadcastTagged checks the explicit broadcast format.
func TestBroadcastTagged(t *testing.T) {
	registry := newTestRegistry()

	alice, _ := newTestSession(t, "alice")
	bob, bobConn := newTestSession(t, "bob")
	require.Equal(t, RegisterOK, registry.TryRegister("alice", alice))
	require.Equal(t, RegisterOK, registry.TryRegister("bob", bob))

	registry.BroadcastTagged("alice", "bye")

	expectLine(t, bobConn, "[12:34:56] alice (broadcast): bye")
}

// TestSendPrivateRoundTrip covers delivery, confirmation, and that the
// confirmation stays with the sender.
func TestSendPrivateRoundTrip(t *testing.T) {
	registry := newTestRegistry()

	alice, aliceConn := newTestSession(t, "alice")
	bob, bobConn := newTestSession(t, "bob")
	require.Equal(t, RegisterOK, registry.TryRegister("alice", alice))
	require.Equal(t, RegisterOK, registry.TryRegister("bob", bob))

	result := registry.SendPrivate("alice", "bob", "hello")
	require.Equal(t, SendDelivered, result)

	expectLine(t, bobConn, "alice (private): hello")
	expectLine(t, aliceConn, "Private message sent to bob")
	expectNoLine(t, bobConn, "Private message sent")
}

// TestSendPrivateMiss verifies an absent target yields RecipientNotFound and
// no message to anyone.
func TestSendPrivateMiss(t *testing.T) {
	registry := newTestRegistry()

	alice, aliceConn := newTestSession(t, "alice")
	require.Equal(t, RegisterOK, registry.TryRegister("alice", alice))

	result := registry.SendPrivate("alice", "ghost", "hi")
	assert.Equal(t, SendRecipientNotFound, result)
	expectNoLine(t, aliceConn, "ghost")
}

// TestListNamesSortedSnapshot verifies listing is deterministic and tracks
// disconnects.
func TestListNamesSortedSnapshot(t *testing.T) {
	registry := newTestRegistry()

	for _, name := range []string{"carol", "alice", "bob"} {
		session, _ := newTestSession(t, name)
		require.Equal(t, RegisterOK, registry.TryRegister(name, session))
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, registry.ListNames())

	registry.Unregister("bob")
	assert.Equal(t, []string{"alice", "carol"}, registry.ListNames())
	assert.Equal(t, 2, registry.Len())
}

// TestUnregisterIdempotent verifies a double unregister announces the
// departure exactly once.
func TestUnregisterIdempotent(t *testing.T) {
	registry := newTestRegistry()

	alice, aliceConn := newTestSession(t, "alice")
	bob, _ := newTestSession(t, "bob")
	require.Equal(t, RegisterOK, registry.TryRegister("alice", alice))
	require.Equal(t, RegisterOK, registry.TryRegister("bob", bob))
	expectLine(t, aliceConn, "bob joined the chat!")

	registry.Unregister("bob")
	registry.Unregister("bob")

	expectLine(t, aliceConn, "bob left the chat!")
	expectNoLine(t, aliceConn, "bob left the chat!")
}

// TestNamesAreCaseSensitive pins down that Alice and alice are distinct
// members.
func TestNamesAreCaseSensitive(t *testing.T) {
	registry := newTestRegistry()

	lower, _ := newTestSession(t, "alice")
	upper, _ := newTestSession(t, "Alice")
	require.Equal(t, RegisterOK, registry.TryRegister("alice", lower))
	require.Equal(t, RegisterOK, registry.TryRegister("Alice", upper))

	assert.Equal(t, 2, registry.Len())
}

// TestShutdownClosesSessionsAndRejectsRegistration verifies shutdown clears
// membership, closes sessions, refuses late registrations, and is idempotent.
func TestShutdownClosesSessionsAndRejectsRegistration(t *testing.T) {
	registry := newTestRegistry()

	sessions := make([]*Session, 0, 3)
	for i := 0; i < 3; i++ {
		session, _ := newTestSession(t, fmt.Sprintf("user%d", i))
		require.Equal(t, RegisterOK, registry.TryRegister(session.Name(), session))
		sessions = append(sessions, session)
	}

	registry.Shutdown()
	registry.Shutdown()

	assert.Equal(t, 0, registry.Len())
	for _, session := range sessions {
		assert.Equal(t, PhaseClosing, session.CurrentPhase())
	}

	late, _ := newTestSession(t, "")
	assert.Equal(t, RegisterShuttingDown, registry.TryRegister("late", late))
}

// TestRegisterConcurrentWithBroadcast publishes a session whose buffer is
// already saturated while another member floods broadcasts, then assigns its
// name. The drop-on-full path must tolerate the concurrent name assignment.
func TestRegisterConcurrentWithBroadcast(t *testing.T) {
	registry := newTestRegistry()

	alice, _ := newTestSession(t, "alice")
	require.Equal(t, RegisterOK, registry.TryRegister("alice", alice))

	conn := newFakeConn()
	conn.blockWrites = make(chan struct{})
	session := NewSession(conn, 1, zerolog.Nop())
	t.Cleanup(func() {
		close(conn.blockWrites)
		session.Close()
		session.Wait()
	})

	// Stall the write loop and fill the buffer so broadcasts drop.
	session.Enqueue("stall")
	session.Enqueue("fill")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		registry.TryRegister("bob", session)
		session.SetName("bob")
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			registry.Broadcast("noise", "")
		}
	}()
	wg.Wait()

	assert.Equal(t, 2, registry.Len())
	assert.Equal(t, "bob", session.Name())
}

package net

import (
	"net"
	"testing"

	"fenrir/internal/common"
	"fenrir/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeEngine struct {
	submitCalls   []engine.SubmitRequest
	cancelCalls   []common.OrderID
	modifyCalls   int
	openCalls     int
	closeCalls    int
	err           error
	realized      float64
	marginUsed    float64
}

func (f *fakeEngine) SubmitOrder(req engine.SubmitRequest, replaying bool) (*common.Order, []common.Trade, error) {
	f.submitCalls = append(f.submitCalls, req)
	if f.err != nil {
		return nil, nil, f.err
	}
	return &common.Order{ID: 1, Symbol: req.Symbol}, nil, nil
}

func (f *fakeEngine) CancelOrder(symbol string, id common.OrderID, user string, replaying bool) (*common.Order, error) {
	f.cancelCalls = append(f.cancelCalls, id)
	if f.err != nil {
		return nil, f.err
	}
	return &common.Order{ID: id, Symbol: symbol}, nil
}

func (f *fakeEngine) ModifyOrder(symbol string, id common.OrderID, user string, newPrice *common.Price, newQty *float64, replaying bool) (bool, error) {
	f.modifyCalls++
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

func (f *fakeEngine) OpenPosition(symbol, user string, size float64, price common.Price, replaying bool) (float64, float64, error) {
	f.openCalls++
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.realized, f.marginUsed, nil
}

func (f *fakeEngine) ClosePosition(symbol, user string, size float64, price common.Price, replaying bool) (float64, float64, error) {
	f.closeCalls++
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.realized, f.marginUsed, nil
}

func newTestServerWithSession(t *testing.T) (*Server, *fakeEngine, net.Conn, string) {
	t.Helper()
	fe := &fakeEngine{}
	s := New("127.0.0.1", 0, fe)
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })
	s.addClientSession(serverConn)
	return s, fe, clientConn, serverConn.RemoteAddr().String()
}

func TestHandleMessage_NewOrderSubmitsToEngine(t *testing.T) {
	s, fe, _, addr := newTestServerWithSession(t)

	err := s.handleMessage(ClientMessage{addr: addr, message: NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		Symbol:      "BTC-PERP", Side: common.Buy, OrderType: common.Limit,
		Price: 50000, Quantity: 1, Username: "alice",
	}})
	require.NoError(t, err)
	require.Len(t, fe.submitCalls, 1)
	assert.Equal(t, "alice", fe.submitCalls[0].User)
}

func TestHandleMessage_BindsUsernameToSession(t *testing.T) {
	s, _, _, addr := newTestServerWithSession(t)

	err := s.handleMessage(ClientMessage{addr: addr, message: NewOrderMessage{
		Symbol: "BTC-PERP", Side: common.Buy, OrderType: common.Limit, Price: 1, Quantity: 1, Username: "alice",
	}})
	require.NoError(t, err)

	s.sessionsLock.RLock()
	session, ok := s.sessionsByUser["alice"]
	s.sessionsLock.RUnlock()
	require.True(t, ok)
	assert.Equal(t, "alice", session.username)
}

func TestHandleMessage_CancelOrderAcksOnSuccess(t *testing.T) {
	s, fe, client, addr := newTestServerWithSession(t)

	// net.Pipe is synchronous: the ack write blocks until this side reads it.
	reports := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		reports <- buf[:n]
	}()

	err := s.handleMessage(ClientMessage{addr: addr, message: CancelOrderMessage{
		Symbol: "BTC-PERP", OrderID: 5, Username: "alice",
	}})
	require.NoError(t, err)
	assert.Equal(t, []common.OrderID{5}, fe.cancelCalls)

	report := <-reports
	require.NotEmpty(t, report)
	assert.Equal(t, byte(AckReport), report[0])
}

func TestHandleMessage_ModifyOrderPropagatesEngineError(t *testing.T) {
	s, fe, _, addr := newTestServerWithSession(t)
	fe.err = common.ErrNotFound

	err := s.handleMessage(ClientMessage{addr: addr, message: ModifyOrderMessage{
		Symbol: "BTC-PERP", OrderID: 5, Username: "alice",
	}})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestHandleMessage_OpenPositionCallsEngine(t *testing.T) {
	s, fe, client, addr := newTestServerWithSession(t)
	fe.realized, fe.marginUsed = 12.5, 500

	// net.Pipe is synchronous: the position report write blocks until this
	// side reads it.
	reports := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		reports <- buf[:n]
	}()

	err := s.handleMessage(ClientMessage{addr: addr, message: PositionMessage{
		BaseMessage: BaseMessage{TypeOf: OpenPosition},
		Symbol:      "BTC-PERP", Price: 50000, Size: 1, Username: "alice",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, fe.openCalls)

	report := <-reports
	require.NotEmpty(t, report)
	assert.Equal(t, byte(PositionReport), report[0])
}

func TestHandleMessage_ClosePositionPropagatesEngineError(t *testing.T) {
	s, fe, _, addr := newTestServerWithSession(t)
	fe.err = common.ErrNoPosition

	err := s.handleMessage(ClientMessage{addr: addr, message: PositionMessage{
		BaseMessage: BaseMessage{TypeOf: ClosePosition},
		Symbol:      "BTC-PERP", Price: 50000, Size: 1, Username: "alice",
	}})
	assert.ErrorIs(t, err, common.ErrNoPosition)
	assert.Equal(t, 1, fe.closeCalls)
}

func TestHandleMessage_LogBookIsANoOp(t *testing.T) {
	s, _, _, addr := newTestServerWithSession(t)
	err := s.handleMessage(ClientMessage{addr: addr, message: BaseMessage{TypeOf: LogBook}})
	assert.NoError(t, err)
}

func TestHandleMessage_UnrecognizedBaseMessageType(t *testing.T) {
	s, _, _, addr := newTestServerWithSession(t)
	err := s.handleMessage(ClientMessage{addr: addr, message: BaseMessage{TypeOf: Heartbeat}})
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestAllow_RateLimitsAfterBurstExhausted(t *testing.T) {
	s, _, _, addr := newTestServerWithSession(t)

	s.sessionsLock.Lock()
	s.sessionsByAddr[addr].limiter = rate.NewLimiter(rate.Limit(1), 1)
	s.sessionsLock.Unlock()

	assert.True(t, s.allow(addr), "first call consumes the single burst token")
	assert.False(t, s.allow(addr), "second immediate call has no tokens left")
}

func TestAllow_UnknownSessionAlwaysAllowed(t *testing.T) {
	s := New("127.0.0.1", 0, &fakeEngine{})
	assert.True(t, s.allow("unknown-addr"))
}

func TestDeleteClientSession_RemovesBothIndexes(t *testing.T) {
	s, _, _, addr := newTestServerWithSession(t)
	s.bindUsername(addr, "alice")

	s.sessionsLock.RLock()
	session := s.sessionsByAddr[addr]
	s.sessionsLock.RUnlock()

	s.deleteClientSession(session)

	s.sessionsLock.RLock()
	_, byAddrOK := s.sessionsByAddr[addr]
	_, byUserOK := s.sessionsByUser["alice"]
	s.sessionsLock.RUnlock()
	assert.False(t, byAddrOK)
	assert.False(t, byUserOK)
}

func TestPublishTrade_ReportsBothLegsByUsername(t *testing.T) {
	fe := &fakeEngine{}
	s := New("127.0.0.1", 0, fe)

	// net.Pipe's RemoteAddr is the same synthetic value on every pipe, so
	// two sessions can't share the addr-keyed table addClientSession uses;
	// register directly by username instead, the way PublishTrade looks
	// sessions up.
	makerServer, makerClient := net.Pipe()
	takerServer, takerClient := net.Pipe()
	defer makerServer.Close()
	defer makerClient.Close()
	defer takerServer.Close()
	defer takerClient.Close()

	s.sessionsLock.Lock()
	s.sessionsByUser["alice"] = &ClientSession{conn: makerServer, username: "alice"}
	s.sessionsByUser["bob"] = &ClientSession{conn: takerServer, username: "bob"}
	s.sessionsLock.Unlock()

	trade := common.Trade{Symbol: "BTC-PERP", MakerOrderID: 1, TakerOrderID: 2, MakerUser: "alice", TakerUser: "bob", Price: 50000, Quantity: 1}

	makerDone := make(chan struct{})
	takerDone := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		makerClient.Read(buf)
		close(makerDone)
	}()
	go func() {
		buf := make([]byte, 256)
		takerClient.Read(buf)
		close(takerDone)
	}()
	s.PublishTrade(trade)
	<-makerDone
	<-takerDone
}

func TestPublishReject_SkipsUnknownUser(t *testing.T) {
	s := New("127.0.0.1", 0, &fakeEngine{})
	// No session registered for "ghost"; PublishReject must not panic or block.
	s.PublishReject("BTC-PERP", "ghost", "insufficient_margin")
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server implements a Model Context Protocol (MCP) server that exposes tools, resources,
// and prompts to connected clients. It manages the connection lifecycle, handles protocol
// messages, and fans broadcast notifications out to every active session.
type Server struct {
	info Info

	instructions string
	capabilities ServerCapabilities
	transport    ServerTransport

	promptServer      PromptServer
	promptListUpdater PromptListUpdater

	resourceServer              ResourceServer
	resourceListUpdater         ResourceListUpdater
	resourceSubscriptionHandler ResourceSubscriptionHandler

	toolServer      ToolServer
	toolListUpdater ToolListUpdater

	logHandler LogHandler

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	logger *slog.Logger

	onClientConnected    func(string, Info)
	onClientDisconnected func(string)

	sessionsWaitGroup *sync.WaitGroup

	done                     chan struct{}
	promptListClosed         chan struct{}
	resourceListClosed       chan struct{}
	resourceSubscribedClosed chan struct{}
	toolListClosed           chan struct{}
	logClosed                chan struct{}
}

type serverSession struct {
	session Session
	logger  *slog.Logger

	serverCap    ServerCapabilities
	serverInfo   Info
	instructions string

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	promptServer                PromptServer
	resourceServer              ResourceServer
	toolServer                  ToolServer
	resourceSubscriptionHandler ResourceSubscriptionHandler
	logHandler                  LogHandler
}

var (
	defaultServerPingInterval         = 30 * time.Second
	defaultServerPingTimeout          = 30 * time.Second
	defaultServerPingTimeoutThreshold = 3
	defaultServerSendTimeout          = 30 * time.Second

	errInvalidJSON = errors.New("invalid json")
)

// NewServer creates a new Model Context Protocol (MCP) server with the specified configuration.
// The advertised capabilities are derived from the provided server implementations.
func NewServer(info Info, transport ServerTransport, options ...ServerOption) Server {
	s := Server{
		info:                     info,
		transport:                transport,
		logger:                   slog.Default(),
		sessionsWaitGroup:        &sync.WaitGroup{},
		done:                     make(chan struct{}),
		promptListClosed:         make(chan struct{}),
		resourceListClosed:       make(chan struct{}),
		resourceSubscribedClosed: make(chan struct{}),
		toolListClosed:           make(chan struct{}),
		logClosed:                make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.pingInterval == 0 {
		s.pingInterval = defaultServerPingInterval
	}
	if s.pingTimeout == 0 {
		s.pingTimeout = defaultServerPingTimeout
	}
	if s.pingTimeoutThreshold == 0 {
		s.pingTimeoutThreshold = defaultServerPingTimeoutThreshold
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}

	s.capabilities = ServerCapabilities{}

	if s.promptServer != nil {
		s.capabilities.Prompts = &PromptsCapability{}
		if s.promptListUpdater != nil {
			s.capabilities.Prompts.ListChanged = true
		}
	}
	if s.resourceServer != nil {
		s.capabilities.Resources = &ResourcesCapability{}
		if s.resourceListUpdater != nil {
			s.capabilities.Resources.ListChanged = true
		}
		if s.resourceSubscriptionHandler != nil {
			s.capabilities.Resources.Subscribe = true
		}
	}
	if s.toolServer != nil {
		s.capabilities.Tools = &ToolsCapability{}
		if s.toolListUpdater != nil {
			s.capabilities.Tools.ListChanged = true
		}
	}
	if s.logHandler != nil {
		s.capabilities.Logging = &LoggingCapability{}
	}

	return s
}

// WithPromptServer returns a ServerOption that configures the prompt server implementation.
func WithPromptServer(srv PromptServer) ServerOption {
	return func(s *Server) {
		s.promptServer = srv
	}
}

// WithPromptListUpdater returns a ServerOption that configures the prompt list updater implementation.
func WithPromptListUpdater(updater PromptListUpdater) ServerOption {
	return func(s *Server) {
		s.promptListUpdater = updater
	}
}

// WithResourceServer returns a ServerOption that configures the resource server implementation.
func WithResourceServer(srv ResourceServer) ServerOption {
	return func(s *Server) {
		s.resourceServer = srv
	}
}

// WithResourceListUpdater returns a ServerOption that configures the resource list updater implementation.
func WithResourceListUpdater(updater ResourceListUpdater) ServerOption {
	return func(s *Server) {
		s.resourceListUpdater = updater
	}
}

// WithResourceSubscriptionHandler returns a ServerOption that configures
// the resource subscription handler implementation.
func WithResourceSubscriptionHandler(handler ResourceSubscriptionHandler) ServerOption {
	return func(s *Server) {
		s.resourceSubscriptionHandler = handler
	}
}

// WithToolServer returns a ServerOption that configures the tool server implementation.
func WithToolServer(srv ToolServer) ServerOption {
	return func(s *Server) {
		s.toolServer = srv
	}
}

// WithToolListUpdater returns a ServerOption that configures the tool list updater implementation.
func WithToolListUpdater(updater ToolListUpdater) ServerOption {
	return func(s *Server) {
		s.toolListUpdater = updater
	}
}

// WithLogHandler returns a ServerOption that configures the log handler implementation.
func WithLogHandler(handler LogHandler) ServerOption {
	return func(s *Server) {
		s.logHandler = handler
	}
}

// WithInstructions returns a ServerOption that configures the server instructions.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerPingInterval returns a ServerOption that configures the server's ping interval.
func WithServerPingInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = interval
	}
}

// WithServerPingTimeout returns a ServerOption that configures the server's ping timeout.
func WithServerPingTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.pingTimeout = timeout
	}
}

// WithServerPingTimeoutThreshold sets the ping timeout threshold for the server.
// If the number of consecutive ping timeouts exceeds the threshold, the server will close the session.
func WithServerPingTimeoutThreshold(threshold int) ServerOption {
	return func(s *Server) {
		s.pingTimeoutThreshold = threshold
	}
}

// WithServerSendTimeout returns a ServerOption that configures the server's send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client connects.
// The callback's parameter is the ID and Info of the client.
func WithServerOnClientConnected(onClientConnected func(string, Info)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback for when a client disconnects.
// The callback's parameter is the ID of the client.
func WithServerOnClientDisconnected(onClientDisconnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "mcp"),
			slog.String("component", "server"),
		)
	}
}

// Serve starts the MCP server and manages its lifecycle. It handles client connections,
// protocol messages, and server capabilities according to the MCP specification.
//
// Serve blocks until the server is shut down.
func (s Server) Serve() {
	broadcasts := make(chan JSONRPCMessage, 10)

	if s.promptListUpdater != nil {
		go s.listenUpdates(methodNotificationsPromptsListChanged, s.promptListUpdater.PromptListUpdates(),
			broadcasts, s.promptListClosed)
	} else {
		close(s.promptListClosed)
	}

	if s.resourceListUpdater != nil {
		go s.listenUpdates(methodNotificationsResourcesListChanged, s.resourceListUpdater.ResourceListUpdates(),
			broadcasts, s.resourceListClosed)
	} else {
		close(s.resourceListClosed)
	}

	if s.resourceSubscriptionHandler != nil {
		go s.listenSubscribedResources(broadcasts)
	} else {
		close(s.resourceSubscribedClosed)
	}

	if s.toolListUpdater != nil {
		go s.listenUpdates(methodNotificationsToolsListChanged, s.toolListUpdater.ToolListUpdates(),
			broadcasts, s.toolListClosed)
	} else {
		close(s.toolListClosed)
	}

	if s.logHandler != nil {
		go s.listenLogs(broadcasts)
	} else {
		close(s.logClosed)
	}

	s.start(broadcasts)
}

// Shutdown gracefully shuts down the server by terminating all active clients and cleaning up resources.
// It returns an error if the shutdown process fails or if the context is cancelled before the shutdown completes.
func (s Server) Shutdown(ctx context.Context) error {
	// Signal the server to shutdown and terminates all sessions
	close(s.done)

	// Wait for all sessions to finish
	s.sessionsWaitGroup.Wait()

	// Close the transport so the Sessions loop in the start function breaks.
	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}

	// Wait for all goroutines to finish

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close PromptListUpdater: %w", ctx.Err())
	case <-s.promptListClosed:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close ResourceListUpdater: %w", ctx.Err())
	case <-s.resourceListClosed:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close ResourceSubscriptionHandler: %w", ctx.Err())
	case <-s.resourceSubscribedClosed:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close ToolListUpdater: %w", ctx.Err())
	case <-s.toolListClosed:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close LogHandler: %w", ctx.Err())
	case <-s.logClosed:
	}

	return nil
}

func (s Server) start(broadcasts <-chan JSONRPCMessage) {
	// These channels are used to send broadcasts to all sessions in the goroutine below.
	sessions := make(chan serverSession, 5)
	removedSessions := make(chan string, 5)

	go s.broadcast(broadcasts, sessions, removedSessions)

	// This loop would break when the transport is closed.
	for sess := range s.transport.Sessions() {
		ss := serverSession{
			session:                     sess,
			logger:                      s.logger.With(slog.String("sessionID", sess.ID())),
			serverCap:                   s.capabilities,
			serverInfo:                  s.info,
			instructions:                s.instructions,
			pingInterval:                s.pingInterval,
			pingTimeout:                 s.pingTimeout,
			pingTimeoutThreshold:        s.pingTimeoutThreshold,
			sendTimeout:                 s.sendTimeout,
			promptServer:                s.promptServer,
			resourceServer:              s.resourceServer,
			toolServer:                  s.toolServer,
			resourceSubscriptionHandler: s.resourceSubscriptionHandler,
			logHandler:                  s.logHandler,
		}
		// Updates the broadcaster about new sessions
		sessions <- ss

		s.sessionsWaitGroup.Add(1)

		// This session would close itself when client failed to initialize or
		// when consecutive pings fail beyond threshold.
		go func() {
			defer s.sessionsWaitGroup.Done()

			if s.onClientConnected != nil {
				s.onClientConnected(ss.session.ID(), ss.serverInfo)
			}

			ss.start(s.done)

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.session.ID())
			}

			// Notify the broadcaster about removed sessions
			select {
			case <-s.done:
			case removedSessions <- ss.session.ID():
			}
		}()
	}
}

func (s Server) broadcast(messages <-chan JSONRPCMessage, sessions <-chan serverSession, removedSession <-chan string) {
	// Store all active sessions in a map for easy lookup
	sessMap := make(map[string]serverSession)

	for {
		select {
		case <-s.done:
			return
		case sess := <-sessions:
			sessMap[sess.session.ID()] = sess
		case sessID := <-removedSession:
			delete(sessMap, sessID)
		case msg := <-messages:
			ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
			// Broadcast the message to all active sessions
			for _, sess := range sessMap {
				if err := sess.session.Send(ctx, msg); err != nil {
					sess.logger.Error("failed to send message",
						slog.Any("message", msg),
						slog.String("err", err.Error()))
				}
			}
			cancel()
		}
	}
}

func (s Server) listenSubscribedResources(messages chan<- JSONRPCMessage) {
	defer close(s.resourceSubscribedClosed)

	for uri := range s.resourceSubscriptionHandler.SubscribedResourceUpdates() {
		params := notificationsResourcesUpdatedParams{
			URI: uri,
		}
		paramsBs, err := json.Marshal(params)
		if err != nil {
			s.logger.Error("failed to marshal resources updated params", "err", err)
			continue
		}
		msg := JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			Method:  methodNotificationsResourcesUpdated,
			Params:  paramsBs,
		}
		select {
		case <-s.done:
			return
		case messages <- msg:
		}
	}
}

func (s Server) listenLogs(messages chan<- JSONRPCMessage) {
	defer close(s.logClosed)

	for params := range s.logHandler.LogStreams() {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			s.logger.Error("failed to marshal log params", "err", err)
			continue
		}
		msg := JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			Method:  methodNotificationsMessage,
			Params:  paramsBs,
		}
		select {
		case <-s.done:
			return
		case messages <- msg:
		}
	}
}

func (s Server) listenUpdates(
	method string,
	updates iter.Seq[struct{}],
	messages chan<- JSONRPCMessage,
	closed chan<- struct{},
) {
	defer close(closed)

	for range updates {
		msg := JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			Method:  method,
		}
		select {
		case <-s.done:
			return
		case messages <- msg:
		}
	}
}

func (s serverSession) start(done <-chan struct{}) {
	// This channel is used to feed the ping goroutine a message ID we received from the client.
	pingMessageIDs := make(chan MustString, 10)
	// Spawn a goroutine to handle the session's lifetime with ping.
	go s.ping(pingMessageIDs, done)
	// Tracks the requests we forwarded to the server implementation: the cancellation for
	// each one, and the result channel feeding client responses back to the clientRequester.
	// The handler goroutine releases its entry when the request completes, so a long-lived
	// session does not accumulate one entry per request.
	requests := newSessionRequests()
	// This base context is to make sure all the operations in the loop below is cancelled
	// when the loop is broken.
	baseCtx, baseCancel := context.WithCancel(context.Background())
	// This flag indicates whether we already established the session with the client.
	// Before this flag is set to true, other than ping and initialization message,
	// we should ignore any other messages from the client.
	initialized := false

	// This loops would break when the session is closed
	for msg := range s.session.Messages() {
		// Validate JSON-RPC version before processing any message
		if msg.JSONRPC != JSONRPCVersion {
			s.logger.Info("failed to handle message",
				slog.Any("message", msg),
				slog.String("err", errInvalidJSON.Error()),
			)
			continue
		}
		switch msg.Method {
		case methodPing:
			go func(msgID MustString) {
				// Send pong back to the client
				pongCtx, pongCancel := context.WithTimeout(context.Background(), s.pingTimeout)
				if err := s.session.Send(pongCtx, JSONRPCMessage{
					JSONRPC: JSONRPCVersion,
					ID:      msgID,
				}); err != nil {
					s.logger.Error("failed to send pong", slog.String("err", err.Error()))
				}
				pongCancel()
			}(msg.ID)
		case methodInitialize:
			// Handle initialization request.
			go s.handleInitializeRequest(msg)
		case MethodPromptsList, MethodPromptsGet, MethodResourcesList, MethodResourcesRead,
			MethodResourcesSubscribe, MethodResourcesUnsubscribe, MethodToolsList, MethodToolsCall,
			MethodCompletionComplete, MethodLoggingSetLevel:
			if !initialized {
				continue
			}
			// All the method above required us to call the server implementation, and all the call is cancellable,
			// so we need to register it, so we can cancel it if the client requests it.
			serverCtx, serverCancel := context.WithCancel(baseCtx)
			// Since the call for the server implementation may use clientRequester that wait for client's response,
			// we need to register the result channel for the clientRequester to receive the response. Also, since
			// waiting for the client's response is a blocking operation, we need to spawn a goroutine to handle it.
			results := requests.register(msg.ID, serverCancel)
			go s.handleServerImplementationMessage(serverCtx, msg, results, requests)
		case methodNotificationsInitialized:
			// Successfully established the session with the client
			initialized = true
		case methodNotificationsCancelled:
			if !initialized {
				continue
			}
			var params notificationsCancelledParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				s.logger.Info("failed to unmarshal cancelled params", slog.String("err", err.Error()))
				continue
			}
			// Lookup the context cancellation for the cancelled request ID
			requests.cancel(params.RequestID)
		case "":
			// This is the response from the client, it can be from initialization error, ping request or
			// clientRequester that called by the server implementation.

			// Check if this is an error response to our initialization request
			if !initialized && msg.Error != nil {
				// If we receive an error during initialization, log it and go on.
				s.logger.Error("initialization failed with error from client",
					slog.String("err", msg.Error.Error()))
				break
			}
			// Feed the ping gourotine with the message ID we received from the client.
			select {
			case <-done:
				break
			case pingMessageIDs <- msg.ID:
			}
			// If it is indeed a ping response, it would not stored on the map.
			// And as the other rseponse with invalid message ID, we ingore it.
			results, rOk := requests.result(msg.ID)
			if !rOk {
				continue
			}
			// Feed the stored result channel, but drop it instantly if there is no receiver. The no-receiver case
			// happens when the clientRequester is failed to send the request to the client, but somehow the client
			// response back with this message ID.
			select {
			case results <- msg:
			default:
			}
		}
	}
	// Cancel all the contexts that we created
	baseCancel()
	// Close the ping message ID channel
	close(pingMessageIDs)
	// Close the result channels of the still in-flight requests, so their
	// clientRequesters unblock.
	requests.closeAll()
}

func (s serverSession) handleInitializeRequest(msg JSONRPCMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	// Verify client's initialization request
	res, err := s.initializationHandshake(msg)
	if err != nil {
		s.logger.Info("invalid initialization request", slog.String("err", err.Error()))
		// Initialization failed, send the error to the client to notify them to close the session.
		if err := s.session.Send(ctx, JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			ID:      msg.ID,
			Error: &JSONRPCError{
				Code:    jsonRPCInvalidParamsCode,
				Message: err.Error(),
			},
		}); err != nil {
			s.logger.Error("failed to send initialization error", slog.String("err", err.Error()))
		}
		return
	}
	resBs, _ := json.Marshal(res)
	if err := s.session.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
		Result:  resBs,
	}); err != nil {
		s.logger.Error("failed to send initialization result", slog.String("err", err.Error()))
	}
}

func (s serverSession) ping(messageIDs <-chan MustString, done <-chan struct{}) {
	defer s.session.Stop()

	pingTicker := time.NewTicker(s.pingInterval)
	failedPings := 0
	var msgID MustString

	for {
		if failedPings > s.pingTimeoutThreshold {
			s.logger.Warn("too many pings failed, closing session")
			return
		}

		select {
		case <-done:
			return
		case id := <-messageIDs:
			// Received id from client response, check whether it's the same as the one we sent.
			if id != msgID {
				continue
			}
			// If it's the same, we received a ping response, reset the failed ping counter.
			s.logger.Debug("received ping response, resetting failed ping counter")
			failedPings = 0
			continue
		case <-pingTicker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.pingTimeout)

		// Send the ping message to the client.
		msgID = MustString(uuid.New().String())

		if err := s.session.Send(ctx, JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			ID:      msgID,
			Method:  methodPing,
		}); err != nil {
			s.logger.Warn("failed to send ping to client",
				slog.String("err", err.Error()))
			failedPings++
		}
		cancel()
	}
}

// sessionRequests tracks the in-flight requests of one session. The session loop
// registers an entry per forwarded request and the handler goroutine releases it on
// completion, so both sides access the maps under the mutex.
type sessionRequests struct {
	mu      sync.Mutex
	cancels map[MustString]context.CancelFunc
	results map[MustString]chan JSONRPCMessage
}

func newSessionRequests() *sessionRequests {
	return &sessionRequests{
		cancels: make(map[MustString]context.CancelFunc),
		results: make(map[MustString]chan JSONRPCMessage),
	}
}

func (r *sessionRequests) register(id MustString, cancel context.CancelFunc) chan JSONRPCMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make(chan JSONRPCMessage)
	r.cancels[id] = cancel
	r.results[id] = results
	return results
}

func (r *sessionRequests) cancel(id MustString) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()

	if ok {
		cancel()
	}
}

func (r *sessionRequests) result(id MustString) (chan JSONRPCMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	results, ok := r.results[id]
	return results, ok
}

// release drops the request's entries and cancels its context, freeing everything the
// request registered.
func (r *sessionRequests) release(id MustString) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	delete(r.results, id)
	r.mu.Unlock()

	if ok {
		cancel()
	}
}

func (r *sessionRequests) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, results := range r.results {
		close(results)
	}
}

func (r *sessionRequests) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.cancels) + len(r.results)
}

func (s serverSession) handleServerImplementationMessage(
	ctx context.Context,
	msg JSONRPCMessage,
	results <-chan JSONRPCMessage,
	requests *sessionRequests,
) {
	defer requests.release(msg.ID)

	// This variables is used to store all the result from the server implementation
	// to be sent back to the client below.
	var result any
	// The err is should always an instance of JSONRPCError, we declare it as an error type,
	// is for the nil-check feature.
	var err error

	switch msg.Method {
	case MethodPromptsList:
		result, err = s.callListPrompts(ctx, msg, results)
	case MethodPromptsGet:
		result, err = s.callGetPrompt(ctx, msg, results)
	case MethodResourcesList:
		result, err = s.callListResources(ctx, msg, results)
	case MethodResourcesRead:
		result, err = s.callReadResource(ctx, msg, results)
	case MethodResourcesSubscribe:
		err = s.callSubscribeResource(msg)
	case MethodResourcesUnsubscribe:
		err = s.callUnsubscribeResource(msg)
	case MethodToolsList:
		result, err = s.callListTools(ctx, msg, results)
	case MethodToolsCall:
		result, err = s.callCallTool(ctx, msg, results)
	case MethodCompletionComplete:
		result, err = s.callCompletePrompt(ctx, msg, results)
	case MethodLoggingSetLevel:
		err = s.callSetLogLevel(msg)
	default:
		return
	}

	resMsg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
	}

	if err != nil {
		jsonErr := JSONRPCError{}
		if errors.As(err, &jsonErr) {
			s.logger.Error("failed to call server implementation",
				slog.String("method", msg.Method),
				slog.String("err", err.Error()))
			resMsg.Error = &jsonErr
		}
	} else if result != nil {
		// Some call doesn't return any result, so this nil check is needed.
		resMsg.Result, _ = json.Marshal(result)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.session.Send(ctx, resMsg); err != nil {
		s.logger.Error("failed to send result", slog.String("err", err.Error()))
	}
}

func (s serverSession) initializationHandshake(msg JSONRPCMessage) (initializeResult, error) {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return initializeResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err.Error()),
		}
	}

	if params.ProtocolVersion != protocolVersion {
		return initializeResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("protocol version mismatch: %s != %s", params.ProtocolVersion, protocolVersion),
		}
	}

	return initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    s.serverCap,
		ServerInfo:      s.serverInfo,
		Instructions:    s.instructions,
	}, nil
}

func (s serverSession) progressReporter(msgID MustString) func(ProgressParams) {
	return func(params ProgressParams) {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			s.logger.Error("failed to marshal progress params", "err", err)
			return
		}

		msg := JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			ID:      msgID,
			Method:  methodNotificationsProgress,
			Params:  paramsBs,
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()

		if err := s.session.Send(ctx, msg); err != nil {
			s.logger.Error("failed to send message", "err", err)
		}
	}
}

func (s serverSession) clientRequester(msgID MustString, results <-chan JSONRPCMessage) RequestClientFunc {
	return func(msg JSONRPCMessage) (JSONRPCMessage, error) {
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()

		// Override the message ID, so we can intercept the result correctly in the main loop.
		msg.ID = msgID
		if err := s.session.Send(ctx, msg); err != nil {
			return JSONRPCMessage{}, err
		}

		return <-results, nil
	}
}

func (s serverSession) callListPrompts(
	ctx context.Context,
	msg JSONRPCMessage,
	results <-chan JSONRPCMessage,
) (ListPromptResult, error) {
	if s.promptServer == nil {
		return ListPromptResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "prompts not supported by server",
		}
	}

	var params ListPromptsParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return ListPromptResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	ps, err := s.promptServer.ListPrompts(ctx, params, s.progressReporter(msg.ID), s.clientRequester(msg.ID, results))
	if err != nil {
		nErr := fmt.Errorf("failed to list prompts: %w", err)
		return ListPromptResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return ps, nil
}

func (s serverSession) callGetPrompt(
	ctx context.Context,
	msg JSONRPCMessage,
	results <-chan JSONRPCMessage,
) (GetPromptResult, error) {
	if s.promptServer == nil {
		return GetPromptResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "prompts not supported by server",
		}
	}

	var params GetPromptParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return GetPromptResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	p, err := s.promptServer.GetPrompt(ctx, params, s.progressReporter(msg.ID), s.clientRequester(msg.ID, results))
	if err != nil {
		nErr := fmt.Errorf("failed to get prompt: %w", err)
		return GetPromptResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return p, nil
}

func (s serverSession) callListResources(
	ctx context.Context,
	msg JSONRPCMessage,
	results <-chan JSONRPCMessage,
) (ListResourcesResult, error) {
	if s.resourceServer == nil {
		return ListResourcesResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "resources not supported by server",
		}
	}

	var params ListResourcesParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return ListResourcesResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	rs, err := s.resourceServer.ListResources(ctx, params, s.progressReporter(msg.ID), s.clientRequester(msg.ID, results))
	if err != nil {
		nErr := fmt.Errorf("failed to list resources: %w", err)
		return ListResourcesResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return rs, nil
}

func (s serverSession) callReadResource(
	ctx context.Context,
	msg JSONRPCMessage,
	results <-chan JSONRPCMessage,
) (ReadResourceResult, error) {
	if s.resourceServer == nil {
		return ReadResourceResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "resources not supported by server",
		}
	}

	var params ReadResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return ReadResourceResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	r, err := s.resourceServer.ReadResource(ctx, params, s.progressReporter(msg.ID), s.clientRequester(msg.ID, results))
	if err != nil {
		nErr := fmt.Errorf("failed to read resource: %w", err)
		return ReadResourceResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return r, nil
}

func (s serverSession) callSubscribeResource(msg JSONRPCMessage) error {
	if s.resourceSubscriptionHandler == nil {
		return JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "resources subscription not supported by server",
		}
	}

	var params SubscribeResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	s.resourceSubscriptionHandler.SubscribeResource(params)

	return nil
}

func (s serverSession) callUnsubscribeResource(msg JSONRPCMessage) error {
	if s.resourceSubscriptionHandler == nil {
		return JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "resources subscription not supported by server",
		}
	}

	var params UnsubscribeResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	s.resourceSubscriptionHandler.UnsubscribeResource(params)

	return nil
}

func (s serverSession) callCompletePrompt(
	ctx context.Context,
	msg JSONRPCMessage,
	results <-chan JSONRPCMessage,
) (CompletionResult, error) {
	if s.promptServer == nil {
		return CompletionResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "prompts not supported by server",
		}
	}

	var params CompletesCompletionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return CompletionResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	if params.Ref.Type != CompletionRefPrompt {
		return CompletionResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("unsupported completion ref type: %s", params.Ref.Type),
		}
	}

	result, err := s.promptServer.CompletesPrompt(ctx, params, s.clientRequester(msg.ID, results))
	if err != nil {
		nErr := fmt.Errorf("failed to complete prompt: %w", err)
		return CompletionResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return result, nil
}

func (s serverSession) callListTools(
	ctx context.Context,
	msg JSONRPCMessage,
	results <-chan JSONRPCMessage,
) (ListToolsResult, error) {
	if s.toolServer == nil {
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params ListToolsParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	ts, err := s.toolServer.ListTools(ctx, params, s.progressReporter(msg.ID), s.clientRequester(msg.ID, results))
	if err != nil {
		nErr := fmt.Errorf("failed to list tools: %w", err)
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return ts, nil
}

func (s serverSession) callCallTool(
	ctx context.Context,
	msg JSONRPCMessage,
	results <-chan JSONRPCMessage,
) (CallToolResult, error) {
	if s.toolServer == nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	result, err := s.toolServer.CallTool(ctx, params, s.progressReporter(msg.ID), s.clientRequester(msg.ID, results))
	if err != nil {
		result = CallToolResult{
			Content: []Content{
				{
					Type: ContentTypeText,
					Text: err.Error(),
				},
			},
			IsError: true,
		}
	}

	return result, nil
}

func (s serverSession) callSetLogLevel(msg JSONRPCMessage) error {
	if s.logHandler == nil {
		return JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "logging not supported by server",
		}
	}

	var params LogParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	s.logHandler.SetLogLevel(params.Level)

	return nil
}

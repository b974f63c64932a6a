// Command call-agent is a headless native call peer. It speaks the same
// relay protocol as the browser clients, driving a Pion transport with local
// camera/microphone capture. Used for soak testing call setup and as the
// kiosk-mode client on campus hardware.
//
// Modes:
//
//	-mode wait   answer the next incoming call automatically
//	-mode dial   start the handshake for an existing session (-session, -peer)
//	-mode match  join the random-match queue and call whoever comes up
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campuslink-backend/internal/call"
	"campuslink-backend/internal/database"
	"campuslink-backend/internal/domain"
	"campuslink-backend/internal/repository/cockroach"
	redisRepo "campuslink-backend/internal/repository/redis"
	matchService "campuslink-backend/internal/service/match"
	"campuslink-backend/internal/signaling"
	"campuslink-backend/pkg/config"
	"campuslink-backend/pkg/logger"
)

func main() {
	var (
		mode      = flag.String("mode", "wait", "wait | dial | match")
		userIDStr = flag.String("user", "", "agent user id (uuid, required)")
		sessStr   = flag.String("session", "", "session id for dial mode")
		peerStr   = flag.String("peer", "", "peer user id for dial mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	userID, err := uuid.Parse(*userIDStr)
	if err != nil {
		logger.Fatal("A valid -user uuid is required", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisDB, err := database.NewRedisDB(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	bus := signaling.NewRedisBus(redisDB.Client)

	agent := &agent{cfg: cfg, bus: bus, userID: userID}

	switch *mode {
	case "dial":
		sessionID, err := uuid.Parse(*sessStr)
		if err != nil {
			logger.Fatal("dial mode needs -session", zap.Error(err))
		}
		peerID, err := uuid.Parse(*peerStr)
		if err != nil {
			logger.Fatal("dial mode needs -peer", zap.Error(err))
		}
		agent.runCall(ctx, sessionID, peerID, call.RoleCaller)

	case "wait":
		agent.waitForCall(ctx)

	case "match":
		agent.runMatch(ctx, redisDB)

	default:
		logger.Fatal("Unknown mode", zap.String("mode", *mode))
	}
}

type agent struct {
	cfg    *config.Config
	bus    signaling.Bus
	userID uuid.UUID
}

// waitForCall listens on the agent's identity topic and answers the first
// incoming call or match.
func (a *agent) waitForCall(ctx context.Context) {
	ch, err := signaling.OpenChannel(ctx, a.bus, signaling.UserTopic(a.userID), logger.Log)
	if err != nil {
		logger.Fatal("Failed to join identity topic", zap.Error(err))
	}

	type invite struct {
		sessionID uuid.UUID
		peerID    uuid.UUID
		role      call.Role
	}
	invites := make(chan invite, 1)
	accept := func(role call.Role) func(*domain.SignalMessage) {
		return func(msg *domain.SignalMessage) {
			select {
			case invites <- invite{sessionID: msg.SessionID, peerID: msg.PeerID, role: role}:
			default:
			}
		}
	}
	ch.On(domain.SignalIncomingCall, accept(call.RoleCallee))
	ch.On(domain.SignalMatched, accept(call.RoleCallee))

	logger.Info("Waiting for a call", zap.String("user_id", a.userID.String()))
	select {
	case <-ctx.Done():
		ch.Close()
	case inv := <-invites:
		ch.Close()
		a.runCall(ctx, inv.sessionID, inv.peerID, inv.role)
	}
}

// runMatch queues for a random match and calls whoever comes up. If someone
// else claims us first, the matched event on the identity topic wins.
func (a *agent) runMatch(ctx context.Context, redisDB *database.RedisClient) {
	db, err := database.NewCockroachDB(ctx, &a.cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	queue := redisRepo.NewMatchQueueRepository(redisDB)
	sessions := cockroach.NewCallRepository(db.Pool)
	svc := matchService.NewService(queue, sessions, a.bus, nil, logger.Log)

	identity, err := signaling.OpenChannel(ctx, a.bus, signaling.UserTopic(a.userID), logger.Log)
	if err != nil {
		logger.Fatal("Failed to join identity topic", zap.Error(err))
	}

	matched := make(chan *domain.CallSession, 1)
	identity.On(domain.SignalMatched, func(msg *domain.SignalMessage) {
		select {
		case matched <- &domain.CallSession{ID: msg.SessionID, CallerID: msg.PeerID, ReceiverID: a.userID}:
		default:
		}
	})

	poller := matchService.NewPoller(svc, a.userID, a.cfg.Match.PollInterval, func(s *domain.CallSession) {
		select {
		case matched <- s:
		default:
		}
	}, logger.Log)
	if err := poller.Start(ctx); err != nil {
		logger.Fatal("Failed to join match queue", zap.Error(err))
	}

	logger.Info("Queued for a match", zap.String("user_id", a.userID.String()))
	select {
	case <-ctx.Done():
		poller.Stop(context.Background())
		identity.Close()
	case session := <-matched:
		poller.Stop(context.Background())
		identity.Close()
		role := call.RoleCaller
		if session.ReceiverID == a.userID {
			role = call.RoleCallee
		}
		a.runCall(ctx, session.ID, session.PeerOf(a.userID), role)
	}
}

// runCall drives one session to completion: capture media, join the call
// topic, run the handshake, hang up on interrupt.
func (a *agent) runCall(ctx context.Context, sessionID, peerID uuid.UUID, role call.Role) {
	tr, err := call.NewPeerTransport(&a.cfg.WebRTC, call.DefaultConstraints(), logger.Log)
	if err != nil {
		logger.Fatal("Failed to set up media transport", zap.Error(err))
	}

	ch, err := signaling.OpenChannel(ctx, a.bus, signaling.CallTopic(sessionID), logger.Log)
	if err != nil {
		tr.Close()
		logger.Fatal("Failed to join call topic", zap.Error(err))
	}

	ended := make(chan string, 1)
	session := call.NewSession(call.SessionConfig{
		SessionID:   sessionID,
		SelfID:      a.userID,
		PeerID:      peerID,
		Role:        role,
		Transport:   tr,
		Channel:     ch,
		RingTimeout: a.cfg.Match.RingTimeout,
		Logger:      logger.Log,
		OnState: func(state call.State) {
			logger.Info("Call state", zap.String("state", state.String()))
		},
		OnRemoteTrack: func(track call.RemoteTrack) {
			logger.Info("Receiving remote media", zap.String("kind", track.Kind))
		},
		OnEnded: func(reason string) {
			select {
			case ended <- reason:
			default:
			}
		},
	})

	if role == call.RoleCaller {
		err = session.Start(ctx)
	} else {
		err = session.Accept(ctx)
	}
	if err != nil {
		session.Close()
		logger.Fatal("Failed to start call", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		session.Hangup(context.Background())
		<-ended
	case reason := <-ended:
		logger.Info("Call finished", zap.String("reason", reason))
	}
}

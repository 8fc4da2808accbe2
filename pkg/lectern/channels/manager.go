// manager.go gerencia múltiplos canais de comunicação simultaneamente,
// fornecendo um ponto único de entrada para receber mensagens de todas
// as plataformas e rotear respostas para o canal correto.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager agrega as mensagens de todos os canais em um único stream e
// roteia respostas, mídia, typing e consultas de admin pelo nome do canal.
type Manager struct {
	channels map[string]Channel
	messages chan *IncomingMessage
	logger   *slog.Logger

	// listenWg sincroniza goroutines de escuta para shutdown seguro.
	listenWg sync.WaitGroup

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager cria um novo gerenciador de canais.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		messages: make(chan *IncomingMessage, 256),
		logger:   logger.With("component", "channels"),
	}
}

// Register adiciona um canal. Deve ser chamado antes de Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start conecta todos os canais registrados e começa a escutar mensagens.
// Canais que falharem na conexão são logados mas não impedem os demais.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		m.logger.Warn("no channels registered")
		return nil
	}

	var connected int
	for name, ch := range snapshot {
		if err := ch.Connect(m.ctx); err != nil {
			m.logger.Error("failed to connect channel", "channel", name, "error", err)
			continue
		}
		connected++
		m.logger.Info("channel connected", "channel", name)

		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.listenChannel(c)
		}(ch)
	}

	if connected == 0 {
		return fmt.Errorf("no channel connected")
	}
	m.logger.Info("manager started", "channels_connected", connected)
	return nil
}

// Stop desconecta todos os canais e fecha o stream agregado depois que as
// goroutines de escuta terminam.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.listenWg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("failed to disconnect channel", "channel", name, "error", err)
		}
	}

	close(m.messages)
	m.logger.Info("manager stopped")
}

// Messages retorna o stream agregado de todas as plataformas.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.messages
}

// Send envia texto pelo canal especificado.
func (m *Manager) Send(ctx context.Context, channelName, to string, msg *OutgoingMessage) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	return ch.Send(ctx, to, msg)
}

// SendMedia envia um arquivo, se o canal suportar mídia.
func (m *Manager) SendMedia(ctx context.Context, channelName, to string, media *MediaMessage) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	mc, ok := ch.(MediaChannel)
	if !ok {
		return fmt.Errorf("%s: %w", channelName, ErrMediaNotSupported)
	}
	return mc.SendMedia(ctx, to, media)
}

// DownloadMedia baixa a mídia de uma mensagem recebida.
func (m *Manager) DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error) {
	ch, err := m.connected(msg.Channel)
	if err != nil {
		return nil, "", err
	}
	mc, ok := ch.(MediaChannel)
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", msg.Channel, ErrMediaNotSupported)
	}
	return mc.DownloadMedia(ctx, msg)
}

// SendTyping envia o indicador de digitação. Canais sem suporte são ignorados.
func (m *Manager) SendTyping(ctx context.Context, channelName, to string) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	if pc, ok := ch.(PresenceChannel); ok {
		return pc.SendTyping(ctx, to)
	}
	return nil
}

// IsAdmin consulta o canal sobre o status de admin do usuário. Canais
// sem AdminChannel nunca concedem admin.
func (m *Manager) IsAdmin(ctx context.Context, channelName, chatID, userID string) (bool, error) {
	ch, err := m.connected(channelName)
	if err != nil {
		return false, err
	}
	ac, ok := ch.(AdminChannel)
	if !ok {
		return false, nil
	}
	return ac.IsAdmin(ctx, chatID, userID)
}

// HealthAll retorna o status de saúde de todos os canais registrados.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		statuses[name] = ch.Health()
	}
	return statuses
}

// HasChannels retorna true se há pelo menos um canal registrado.
func (m *Manager) HasChannels() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels) > 0
}

func (m *Manager) connected(name string) (Channel, error) {
	m.mu.RLock()
	ch, exists := m.channels[name]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%q: %w", name, ErrChannelNotFound)
	}
	if !ch.IsConnected() {
		return nil, fmt.Errorf("%q: %w", name, ErrChannelDisconnected)
	}
	return ch, nil
}

// listenChannel repassa as mensagens de um canal ao stream agregado.
func (m *Manager) listenChannel(ch Channel) {
	for {
		select {
		case msg, ok := <-ch.Receive():
			if !ok {
				return
			}
			select {
			case m.messages <- msg:
			case <-m.ctx.Done():
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}

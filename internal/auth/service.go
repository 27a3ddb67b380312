// Package auth はメールリンク認証、OAuth認証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/mailer"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/repository"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/security"
)

// サインイン結果（メトリクスのラベル値）
const (
	signInSuccess      = "success"
	signInInvalidToken = "invalid_token"
	signInNotLinked    = "not_linked"
	signInError        = "error"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報とトークンを表す。
// ExpiresAtはUNIX秒で、0は不明を表す。
type OAuthUserInfo struct {
	Provider          string
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	Name              string
	Image             string

	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	IDToken      string
	ExpiresAt    int64
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Provider はaccounts.providerに保存するプロバイダー名を返す。
	Provider() string
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// SignInRecorder はサインイン関連のメトリクスを記録するインターフェース。
type SignInRecorder interface {
	RecordSignInEmailSent()
	RecordSignIn(result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Secret                  string        // トークンハッシュ用のサーバー秘密値
	BaseURL                 string        // サインインリンクの生成に使用
	SessionMaxAge           time.Duration // セッション有効期間
	SessionUpdateAge        time.Duration // 有効期限を延長する間隔
	VerificationTokenMaxAge time.Duration // サインインリンクの有効期間
}

// Service は認証に関するビジネスロジックを提供する。
// 永続化はすべてrepository.AuthStorageを経由する。
type Service struct {
	store   repository.AuthStorage
	mailer  mailer.Sender
	oauth   OAuthProvider
	metrics SignInRecorder
	config  ServiceConfig

	now           func() time.Time
	generateToken func() (string, error)
}

// NewService はServiceを生成する。
// oauthがnilの場合はOAuthサインインを無効とする。metricsはnilでもよい。
func NewService(
	store repository.AuthStorage,
	sender mailer.Sender,
	oauth OAuthProvider,
	metrics SignInRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		store:         store,
		mailer:        sender,
		oauth:         oauth,
		metrics:       metrics,
		config:        config,
		now:           time.Now,
		generateToken: generateToken,
	}
}

// RequestSignIn はサインインリンクを発行し、メールで送信する。
// トークンはハッシュ化して保存し、平文はメール本文のリンクにのみ含める。
func (s *Service) RequestSignIn(ctx context.Context, rawEmail string) error {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	token, err := s.generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate verification token: %w", err)
	}

	if _, err := s.store.CreateVerificationToken(ctx, model.VerificationToken{
		Identifier: email,
		Token:      hashToken(token, s.config.Secret),
		Expires:    s.now().Add(s.config.VerificationTokenMaxAge),
	}); err != nil {
		return fmt.Errorf("failed to save verification token: %w", err)
	}

	link := s.callbackURL(email, token)
	if err := s.mailer.Send(ctx, mailer.Message{
		To:       email,
		Subject:  "サインインリンク",
		Body:     "以下のリンクからサインインしてください。\n\n" + link + "\n\nこのメールに心当たりがない場合は破棄してください。",
		HTMLBody: `<p>以下のリンクからサインインしてください。</p><p><a href="` + link + `">サインイン</a></p>`,
	}); err != nil {
		return fmt.Errorf("failed to send sign-in email: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordSignInEmailSent()
	}
	slog.Info("sign-in link sent")
	return nil
}

// CompleteSignIn はサインインリンクのトークンを消費し、セッションを発行する。
// トークンが未知・使用済み・期限切れの場合はいずれもINVALID_TOKENエラーを返す。
// 未登録のメールアドレスの場合はユーザーを自動作成する。
func (s *Service) CompleteSignIn(ctx context.Context, rawEmail, token string) (*model.Session, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil || token == "" {
		s.recordSignIn(signInInvalidToken)
		return nil, model.NewInvalidTokenError()
	}

	// 1. トークンを取得と同時に無効化
	vt, err := s.store.UseVerificationToken(ctx, email, hashToken(token, s.config.Secret))
	if err != nil {
		s.recordSignIn(signInError)
		return nil, fmt.Errorf("failed to use verification token: %w", err)
	}
	now := s.now()
	if vt == nil || !vt.Expires.After(now) {
		s.recordSignIn(signInInvalidToken)
		return nil, model.NewInvalidTokenError()
	}

	// 2. ユーザーの特定または作成
	user, err := s.findOrCreateUser(ctx, email, now)
	if err != nil {
		s.recordSignIn(signInError)
		return nil, err
	}

	// 3. 初回のメール確認日時を記録
	if user.EmailVerified == nil {
		if _, err := s.store.UpdateUser(ctx, model.UserPatch{
			ID:            user.ID,
			EmailVerified: model.Some(now),
		}); err != nil {
			s.recordSignIn(signInError)
			return nil, fmt.Errorf("failed to mark email verified: %w", err)
		}
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		s.recordSignIn(signInError)
		return nil, err
	}

	s.recordSignIn(signInSuccess)
	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("provider", "email"),
	)
	return session, nil
}

// findOrCreateUser はメールアドレスでユーザーを検索し、存在しなければ作成する。
// 同じメールアドレスで同時に作成された場合は、一意制約違反の後に再検索する。
func (s *Service) findOrCreateUser(ctx context.Context, email string, verifiedAt time.Time) (*model.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = s.store.CreateUser(ctx, model.NewUser{
		Email:         email,
		EmailVerified: &verifiedAt,
	})
	if repository.IsUniqueViolation(err) {
		user, err = s.store.GetUserByEmail(ctx, email)
		if err == nil && user == nil {
			return nil, fmt.Errorf("user disappeared after unique violation: %s", email)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created", slog.String("user_id", user.ID))
	return user, nil
}

// OAuthEnabled はOAuthサインインが設定されているかを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// GetOAuthLoginURL はOAuth認証URLを生成する。
func (s *Service) GetOAuthLoginURL(state string) string {
	if s.oauth == nil {
		return ""
	}
	return s.oauth.GetLoginURL(state)
}

// CompleteOAuthSignIn はOAuthコールバックを処理し、セッションを発行する。
//
// 紐付け済みの外部アカウントはそのユーザーでログインする。
// currentUserIDが指定された場合（ログイン中の連携操作）は、そのユーザーに外部アカウントを紐付ける。
// 未紐付けで同じメールアドレスのユーザーが既に存在する場合は、なりすまし防止のため
// ACCOUNT_NOT_LINKEDエラーとする。
func (s *Service) CompleteOAuthSignIn(ctx context.Context, code, currentUserID string) (*model.Session, error) {
	if s.oauth == nil {
		return nil, fmt.Errorf("oauth provider is not configured")
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.recordSignIn(signInError)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. 紐付け済みのユーザーを検索
	linked, err := s.store.GetUserByAccount(ctx, info.Provider, info.ProviderAccountID)
	if err != nil {
		s.recordSignIn(signInError)
		return nil, fmt.Errorf("failed to find user by account: %w", err)
	}

	var userID string
	switch {
	case linked != nil:
		if currentUserID != "" && linked.ID != currentUserID {
			s.recordSignIn(signInNotLinked)
			return nil, model.NewAccountInUseError()
		}
		userID = linked.ID

	case currentUserID != "":
		if _, err := s.store.LinkAccount(ctx, accountFromOAuth(currentUserID, info)); err != nil {
			s.recordSignIn(signInError)
			return nil, fmt.Errorf("failed to link account: %w", err)
		}
		userID = currentUserID
		slog.Info("account linked",
			slog.String("user_id", userID),
			slog.String("provider", info.Provider),
		)

	default:
		userID, err = s.createOAuthUser(ctx, info)
		if err != nil {
			return nil, err
		}
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, userID)
	if err != nil {
		s.recordSignIn(signInError)
		return nil, err
	}

	s.recordSignIn(signInSuccess)
	slog.Info("user signed in",
		slog.String("user_id", userID),
		slog.String("provider", info.Provider),
	)
	return session, nil
}

// createOAuthUser は外部アカウント情報からユーザーを作成し、アカウントを紐付ける。
func (s *Service) createOAuthUser(ctx context.Context, info *OAuthUserInfo) (string, error) {
	email, err := NormalizeEmail(info.Email)
	if err != nil {
		s.recordSignIn(signInError)
		return "", err
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		s.recordSignIn(signInError)
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		s.recordSignIn(signInNotLinked)
		slog.Warn("oauth account not linked to existing user",
			slog.String("user_id", existing.ID),
			slog.String("provider", info.Provider),
		)
		return "", model.NewAccountNotLinkedError()
	}

	newUser := model.NewUser{Email: email}
	if name := security.SanitizeDisplayName(info.Name); name != "" {
		newUser.Name = &name
	}
	// 安全でない画像URLは保存しない
	if info.Image != "" && security.ValidateImageURL(info.Image) == nil {
		newUser.Image = &info.Image
	}
	if info.EmailVerified {
		now := s.now()
		newUser.EmailVerified = &now
	}

	user, err := s.store.CreateUser(ctx, newUser)
	if repository.IsUniqueViolation(err) {
		return s.resolveConcurrentOAuthUser(ctx, info)
	}
	if err != nil {
		s.recordSignIn(signInError)
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	if _, err := s.store.LinkAccount(ctx, accountFromOAuth(user.ID, info)); err != nil {
		s.recordSignIn(signInError)
		// 紐付けのないユーザーが残ると以降のOAuthサインインがACCOUNT_NOT_LINKEDになるため削除する
		if delErr := s.store.DeleteUser(ctx, user.ID); delErr != nil {
			slog.Error("failed to remove user after link failure",
				slog.String("user_id", user.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return "", fmt.Errorf("failed to link account: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user.ID, nil
}

// resolveConcurrentOAuthUser はユーザー作成が一意制約違反になった場合の処理。
// 同じ外部アカウントの並行したコールバックが先に紐付けを済ませていればそのユーザーを返し、
// それ以外はメールアドレスが既存ユーザーのものとしてACCOUNT_NOT_LINKEDを返す。
func (s *Service) resolveConcurrentOAuthUser(ctx context.Context, info *OAuthUserInfo) (string, error) {
	linked, err := s.store.GetUserByAccount(ctx, info.Provider, info.ProviderAccountID)
	if err != nil {
		s.recordSignIn(signInError)
		return "", fmt.Errorf("failed to find user by account: %w", err)
	}
	if linked != nil {
		return linked.ID, nil
	}

	s.recordSignIn(signInNotLinked)
	slog.Warn("oauth account not linked to existing user",
		slog.String("provider", info.Provider),
	)
	return "", model.NewAccountNotLinkedError()
}

// accountFromOAuth はOAuthの結果をaccountsの行に変換する。空の値はnullとして保存する。
func accountFromOAuth(userID string, info *OAuthUserInfo) model.Account {
	account := model.Account{
		UserID:            userID,
		Type:              "oauth",
		Provider:          info.Provider,
		ProviderAccountID: info.ProviderAccountID,
		AccessToken:       nonEmpty(info.AccessToken),
		RefreshToken:      nonEmpty(info.RefreshToken),
		TokenType:         nonEmpty(info.TokenType),
		Scope:             nonEmpty(info.Scope),
		IDToken:           nonEmpty(info.IDToken),
	}
	if info.ExpiresAt > 0 {
		expiresAt := info.ExpiresAt
		account.ExpiresAt = &expiresAt
	}
	return account
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetSession はセッショントークンから有効なセッションとユーザーを取得する。
// 期限切れのセッションは削除してnilを返す。
// 前回の延長からSessionUpdateAge以上経過している場合は有効期限を延長する。
func (s *Service) GetSession(ctx context.Context, sessionToken string) (*model.SessionAndUser, error) {
	if sessionToken == "" {
		return nil, nil
	}

	result, err := s.store.GetSessionAndUser(ctx, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	now := s.now()
	if !result.Session.Expires.After(now) {
		if err := s.store.DeleteSession(ctx, sessionToken); err != nil {
			return nil, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return nil, nil
	}

	// 有効期限から逆算した前回の延長時刻
	lastRenewed := result.Session.Expires.Add(-s.config.SessionMaxAge)
	if !now.Before(lastRenewed.Add(s.config.SessionUpdateAge)) {
		updated, err := s.store.UpdateSession(ctx, sessionToken, now.Add(s.config.SessionMaxAge))
		if err != nil {
			return nil, fmt.Errorf("failed to extend session: %w", err)
		}
		if updated != nil {
			result.Session = *updated
		}
	}

	return result, nil
}

// SignOut はセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return fmt.Errorf("session token is required")
	}

	if err := s.store.DeleteSession(ctx, sessionToken); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out")
	return nil
}

// FindUserByAccount は外部アカウントに紐付くユーザーを返す。紐付けがない場合はnilを返す。
func (s *Service) FindUserByAccount(ctx context.Context, provider, providerAccountID string) (*model.User, error) {
	user, err := s.store.GetUserByAccount(ctx, provider, providerAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by account: %w", err)
	}
	return user, nil
}

// LinkAccount は外部アカウントをユーザーに紐付ける。
// 既に同じ外部アカウントが紐付いている場合はACCOUNT_IN_USEエラーを返す。
func (s *Service) LinkAccount(ctx context.Context, account model.Account) (*model.Account, error) {
	linked, err := s.store.LinkAccount(ctx, account)
	if repository.IsUniqueViolation(err) {
		return nil, model.NewAccountInUseError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to link account: %w", err)
	}
	return linked, nil
}

// UnlinkAccount は外部アカウントの紐付けを解除する。
func (s *Service) UnlinkAccount(ctx context.Context, provider, providerAccountID string) error {
	if err := s.store.UnlinkAccount(ctx, provider, providerAccountID); err != nil {
		return fmt.Errorf("failed to unlink account: %w", err)
	}
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionToken, err := s.generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	session, err := s.store.CreateSession(ctx, model.Session{
		SessionToken: sessionToken,
		UserID:       userID,
		Expires:      s.now().Add(s.config.SessionMaxAge),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) callbackURL(email, token string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	return s.config.BaseURL + "/auth/callback/email?" + q.Encode()
}

func (s *Service) recordSignIn(result string) {
	if s.metrics != nil {
		s.metrics.RecordSignIn(result)
	}
}

// hashToken はトークンとサーバー秘密値を連結したSHA-256を16進文字列で返す。
func hashToken(token, secret string) string {
	sum := sha256.Sum256([]byte(token + secret))
	return hex.EncodeToString(sum[:])
}

// generateToken は暗号的に安全なランダムトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

package bot

// Command constants for Telegram bot commands.
const (
	CommandStart    = "/start"
	CommandBalance  = "/balance"
	CommandAvatar   = "/avatar"
	CommandDone     = "/done"
	CommandGenerate = "/generate"
	CommandReferral = "/referral"
	CommandBuy      = "/buy"
	CommandLang     = "/lang"
	CommandCancel   = "/cancel"
)

// menuCommands maps main menu catalog keys to the command they trigger.
var menuCommands = map[string]string{
	"menu.generate": CommandGenerate,
	"menu.avatar":   CommandAvatar,
	"menu.balance":  CommandBalance,
	"menu.buy":      CommandBuy,
	"menu.referral": CommandReferral,
	"menu.lang":     CommandLang,
}

// commandList is published to Telegram so clients show command hints.
var commandList = []struct {
	Command     string
	Description string
}{
	{CommandStart, "Главное меню"},
	{CommandGenerate, "Сгенерировать фото"},
	{CommandAvatar, "Создать аватар"},
	{CommandBalance, "Баланс"},
	{CommandBuy, "Купить генерации"},
	{CommandReferral, "Реферальная программа"},
	{CommandLang, "Язык"},
	{CommandCancel, "Отменить"},
}

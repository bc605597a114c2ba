package banner

import (
	"steadytls/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

const ascii = `
   _____ __                 __      ________   _____
  / ___// /____  ____ _____/ /_  __/_  __/ /  / ___/
  \__ \/ __/ _ \/ __ '/ __  / / / / / / / /   \__ \ 
 ___/ / /_/  __/ /_/ / /_/ / /_/ / / / / /______/ / 
/____/\__/\___/\__,_/\__,_/\__, / /_/ /_____/____/  
                          /____/                    `

// GetString returns the banner rendered for the current terminal.
func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	return "\n" + style.Render(ascii) + "\n"
}

package bridge

import "fmt"

// Params describes one control-process launch. The bridge passes these
// through to the lerobot.record command line without interpreting them.
type Params struct {
	// Task is the task description (e.g. "Grab the Nut").
	Task string

	// EpisodeTimeS is the maximum episode time in seconds.
	EpisodeTimeS int

	// RepoID is the dataset repository identifier.
	RepoID string

	// PolicyPath is the trained policy reference.
	PolicyPath string

	// Robot identity and camera config, normally taken from config.
	RobotType     string
	RobotPort     string
	RobotID       string
	CamerasConfig string
}

// Command builds the control-process argv.
func (p Params) Command() []string {
	return []string{
		"python", "-m", "lerobot.record",
		fmt.Sprintf("--robot.type=%s", p.RobotType),
		fmt.Sprintf("--robot.port=%s", p.RobotPort),
		fmt.Sprintf("--robot.id=%s", p.RobotID),
		fmt.Sprintf("--robot.cameras=%s", p.CamerasConfig),
		"--display_data=true",
		fmt.Sprintf("--dataset.repo_id=%s", p.RepoID),
		fmt.Sprintf("--dataset.episode_time_s=%d", p.EpisodeTimeS),
		fmt.Sprintf("--dataset.single_task=%s", p.Task),
		fmt.Sprintf("--policy.path=%s", p.PolicyPath),
	}
}

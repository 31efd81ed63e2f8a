// Command volsinspect is a small diagnostic CLI over a vologram
// container: it opens a split or unified .vols file and reports header
// fields, per-frame keyframe/size information, or dumps the embedded
// audio chunk.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cybergarage/go-logger/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"ktkr.us/pkg/fmtutil"

	"github.com/volograms/volgeom"
)

var (
	volsPath   string
	headerPath string
	seqPath    string
	streaming  bool
)

var rootCmd = &cobra.Command{
	Use:   "volsinspect",
	Short: "Inspect vologram (.vols) geometry containers",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&volsPath, "vols", "", "path to a unified .vols file")
	rootCmd.PersistentFlags().StringVar(&headerPath, "header", "", "path to a split-layout header file")
	rootCmd.PersistentFlags().StringVar(&seqPath, "sequence", "", "path to a split-layout sequence file")
	rootCmd.PersistentFlags().BoolVar(&streaming, "streaming", viper.GetBool("streaming"), "read frames from disk on demand instead of preloading the sequence")

	viper.BindPFlag("streaming", rootCmd.PersistentFlags().Lookup("streaming"))

	rootCmd.AddCommand(infoCmd, framesCmd, keyframeCmd, audioCmd)
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".volsinspect")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("volsinspect")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("using config file %s", viper.ConfigFileUsed())
	}
}

func openSession() (*volgeom.Session, error) {
	if volsPath != "" {
		return volgeom.OpenUnified(volsPath)
	}
	if headerPath != "" && seqPath != "" {
		return volgeom.OpenSplit(headerPath, seqPath, viper.GetBool("streaming"))
	}
	return nil, fmt.Errorf("pass either --vols, or both --header and --sequence")
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print header fields and derived playback duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		hdr := s.Header()
		fmt.Printf("version:       v1.%d\n", hdr.Version-10)
		fmt.Printf("frame_count:   %d\n", hdr.FrameCount)
		fmt.Printf("has_normals:   %v\n", hdr.HasNormals)
		fmt.Printf("is_textured:   %v\n", hdr.IsTextured)
		fmt.Printf("largest_frame: #%d\n", s.LargestFrameIndex())

		if hdr.FPS > 0 {
			seconds := float64(hdr.FrameCount) / float64(hdr.FPS)
			fmt.Printf("fps:           %.3f\n", hdr.FPS)
			fmt.Printf("duration:      %s\n", fmtutil.HMS(int(seconds)))
		}
		if audio := s.Audio(); audio != nil {
			fmt.Printf("audio_bytes:   %d\n", len(audio))
		}
		return nil
	},
}

var framesCmd = &cobra.Command{
	Use:   "frames",
	Short: "List every frame's keyframe flag and section sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		for i := uint32(0); i < s.FrameCount(); i++ {
			view, err := s.ReadFrame(i)
			if err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			fmt.Printf("%6d  keyframe=%-5v  vtx=%-8d nrm=%-8d idx=%-8d uv=%-8d tex=%-8d\n",
				i, s.IsKeyframe(i), view.VerticesSz, view.NormalsSz, view.IndicesSz, view.UVsSz, view.TextureSz)
		}
		return nil
	},
}

var keyframeCmd = &cobra.Command{
	Use:   "keyframe <index>",
	Short: "Find the previous keyframe at or before the given frame index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var i uint32
		if _, err := fmt.Sscanf(args[0], "%d", &i); err != nil {
			return fmt.Errorf("invalid frame index %q: %w", args[0], err)
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		j := s.FindPreviousKeyframe(i)
		fmt.Println(j)
		return nil
	},
}

var audioCmd = &cobra.Command{
	Use:   "audio <out-file>",
	Short: "Write the embedded audio chunk to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		audio := s.Audio()
		if audio == nil {
			return fmt.Errorf("this vologram has no embedded audio chunk")
		}

		out := args[0]
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		if err := os.WriteFile(out, audio, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		fmt.Printf("wrote %d bytes to %s\n", len(audio), out)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

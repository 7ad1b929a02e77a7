// taarini-analyze 命令行视频分析工具
//
// 用法：
//
//	taarini-analyze -file pool.mp4            上传视频并等待分析结果
//	taarini-analyze -show                     查看上一次缓存的结果
//	taarini-analyze -show -xlsx report.xlsx   导出时间轴
//	taarini-analyze -clear                    清除缓存结果
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Akshita1414/Taarini/common/logger"
	"github.com/Akshita1414/Taarini/internal/analysis"
	"github.com/Akshita1414/Taarini/internal/config"
	"github.com/Akshita1414/Taarini/internal/models"
	"github.com/Akshita1414/Taarini/internal/service"

	"go.uber.org/zap"
)

const jobDrainTimeout = 5 * time.Second

func main() {
	file := flag.String("file", "", "video file to analyze")
	show := flag.Bool("show", false, "print the cached analysis result")
	clearCache := flag.Bool("clear", false, "clear the cached analysis result")
	xlsxPath := flag.String("xlsx", "", "write the timeline to an xlsx file")
	flag.Parse()

	if *file == "" && !*show && !*clearCache {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 命令行默认输出到控制台
	log, err := logger.NewLogger(cfg.Log.Level, "console", "taarini-analyze")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	analyzer, err := service.NewAnalyzer(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create analyzer", zap.Error(err))
	}
	defer analyzer.Close()

	if err := run(ctx, analyzer, *file, *show, *clearCache, *xlsxPath); err != nil {
		log.Error("Analysis failed", zap.Error(err))
		analyzer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, analyzer *service.Analyzer, file string, show, clearCache bool, xlsxPath string) error {
	if clearCache {
		if err := analyzer.Cache.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("Cached result cleared")
		return nil
	}

	var result *models.VideoAnalysisResult
	if file != "" {
		upload, err := analysis.OpenUpload(file, analyzer.Client.MaxUploadBytes(), analysis.WithName(filepath.Base(file)))
		if err != nil {
			return err
		}
		job, err := analyzer.Client.Submit(ctx, upload)
		if err != nil {
			upload.Close()
			return err
		}
		fmt.Printf("Submitted %s (request %s), waiting for result...\n", filepath.Base(file), job.RequestID())

		result, err = awaitJob(ctx, job, jobDrainTimeout)
		if err != nil {
			var jobErr *analysis.JobError
			if errors.As(err, &jobErr) {
				return fmt.Errorf("%s: %s", jobErr.Kind, jobErr.Cause)
			}
			return err
		}
	} else {
		result, _ = analyzer.Cache.Current()
		if result == nil {
			return errors.New("no cached analysis result")
		}
	}

	tl := analysis.BuildTimeline(result, analyzer.Client.ResolveRef)
	printTimeline(tl)

	if xlsxPath != "" {
		f, err := os.Create(xlsxPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", xlsxPath, err)
		}
		defer f.Close()
		if err := analysis.WriteTimelineXLSX(f, tl); err != nil {
			return err
		}
		fmt.Printf("Timeline written to %s\n", xlsxPath)
	}
	return nil
}

// awaitJob 等待任务结果；ctx 取消后再等待后台任务结束（至多 drain），避免在写缓存时关闭存储
func awaitJob(ctx context.Context, job *analysis.Job, drain time.Duration) (*models.VideoAnalysisResult, error) {
	result, err := job.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		select {
		case <-job.Done():
		case <-time.After(drain):
		}
	}
	return result, err
}

func printTimeline(tl analysis.Timeline) {
	s := tl.Summary
	fmt.Printf("Overall: %s  %s\n", s.OverallStatus, s.OverallMessage)
	fmt.Printf("Duration %s, %d frames, %d humans, %d submerged\n",
		s.DurationLabel, s.FramesProcessed, s.TotalHumans, s.TotalSubmerged)
	if s.FirstCriticalLabel != "" {
		fmt.Printf("First critical frame at %s\n", s.FirstCriticalLabel)
	}
	for _, e := range tl.Entries {
		fmt.Printf("  [%s] %-8s humans=%d submerged=%d conf=%.2f  %s\n",
			e.Label, e.Status, e.HumanCount, e.SubmergedCount, e.MaxConfidence, e.Message)
	}
}

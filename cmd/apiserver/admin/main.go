package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"cpsocial/internal/config"
	"cpsocial/internal/logging"
	"cpsocial/internal/models"
	"cpsocial/internal/storage"
)

func usage() {
	fmt.Println("使用方法:")
	fmt.Println("  ./admin [-config path] migrate           - 迁移数据库表结构")
	fmt.Println("  ./admin [-config path] show-user <userID> - 显示用户资料与刷题统计")
	fmt.Println("  ./admin [-config path] show-room <roomID> - 显示房间成员与未读数")
	fmt.Println("  ./admin [-config path] recount-totals    - 按难度重新计算 total_solved")
}

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer logger.Sync()

	db, err := storage.InitDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("无法初始化数据库", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch args[0] {
	case "migrate":
		if err := storage.AutoMigrateTables(db); err != nil {
			logger.Fatal("迁移失败", zap.Error(err))
		}
		fmt.Println("迁移完成")

	case "show-user":
		showUser(ctx, storage.NewGormUserRepository(db), storage.NewGormFriendshipRepository(db), idArg(args, "用户ID"))

	case "show-room":
		showRoom(ctx, storage.NewGormRoomRepository(db), idArg(args, "房间ID"))

	case "recount-totals":
		recountTotals(ctx, db)

	default:
		usage()
		log.Fatalf("未知命令: %s", args[0])
	}
}

func idArg(args []string, name string) uint {
	if len(args) < 2 {
		log.Fatalf("需要指定%s", name)
	}
	id, err := storage.StrToUint(args[1])
	if err != nil {
		log.Fatalf("无效的%s: %v", name, err)
	}
	return id
}

func showUser(ctx context.Context, users storage.UserRepository, friendships storage.FriendshipRepository, userID uint) {
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		log.Fatalf("获取用户失败: %v", err)
	}
	friendIDs, err := friendships.GetFriendIDs(ctx, userID)
	if err != nil {
		log.Fatalf("获取好友失败: %v", err)
	}

	fmt.Printf("用户 %d 信息:\n", userID)
	fmt.Println("--------------------------------------")
	fmt.Printf("用户名: %s\n", user.Username)
	fmt.Printf("邮箱: %s\n", user.Email)
	fmt.Printf("刷题账号: %s\n", user.PracticeHandle)
	fmt.Printf("已解决: %d (简单 %d / 中等 %d / 困难 %d)\n", user.TotalSolved, user.EasySolved, user.MediumSolved, user.HardSolved)
	fmt.Printf("竞赛分: %d\n", user.ContestRating)
	fmt.Printf("连续天数: %d (最长 %d)\n", user.CurrentStreak, user.LongestStreak)
	fmt.Printf("好友数量: %d\n", len(friendIDs))
	fmt.Printf("注册时间: %s\n", user.CreatedAt.Format("2006-01-02 15:04:05"))
}

func showRoom(ctx context.Context, rooms storage.RoomRepository, roomID uint) {
	room, err := rooms.GetByID(ctx, roomID)
	if err != nil {
		log.Fatalf("获取房间失败: %v", err)
	}
	memberIDs, err := rooms.ListMemberIDs(ctx, roomID)
	if err != nil {
		log.Fatalf("获取成员失败: %v", err)
	}

	fmt.Printf("房间 %d 信息:\n", roomID)
	fmt.Println("--------------------------------------")
	fmt.Printf("类型: %s\n", room.Type)
	fmt.Printf("名称: %s\n", room.Name)
	fmt.Printf("创建者: %d\n", room.CreatorID)
	fmt.Printf("创建时间: %s\n", room.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("成员 (%d 人):\n", len(memberIDs))
	for i, userID := range memberIDs {
		member, err := rooms.GetMember(ctx, roomID, userID)
		if err != nil {
			fmt.Printf("#%d 用户ID: %d (读取失败: %v)\n", i+1, userID, err)
			continue
		}
		fmt.Printf("#%d 用户ID: %d, 角色: %s, 未读: %d, 加入时间: %s\n",
			i+1, userID, member.Role, member.UnreadCount, member.JoinedAt.Format("2006-01-02 15:04:05"))
	}
}

// recountTotals repairs rows whose total drifted from the per-difficulty counts.
func recountTotals(ctx context.Context, db *gorm.DB) {
	result := db.WithContext(ctx).Model(&models.User{}).
		Where("total_solved <> easy_solved + medium_solved + hard_solved").
		Update("total_solved", gorm.Expr("easy_solved + medium_solved + hard_solved"))
	if result.Error != nil {
		log.Fatalf("重新计算失败: %v", result.Error)
	}
	fmt.Printf("已修复 %d 个用户\n", result.RowsAffected)
}
